// Package cos provides common low-level types and utilities shared across
// the streamer's packages.
/*
 * adapted from rockstar-0000-aistore/cmn/cos/uuid.go
 */
package cos

import (
	"sync"
	ratomic "sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initSID() {
	sid = shortid.MustNew(4, uuidABC, uint64(time.Now().UnixNano()))
}

// GenUUID produces a short, URL-safe unique id, used for Streamer and Buffer
// identity in log lines.
func GenUUID() string {
	sidOnce.Do(initSID)
	return sid.MustGenerate()
}

var reqCounter ratomic.Uint64

// GenRequestID returns a monotonically increasing, process-local request id,
// as required by Per-Node Buffer's in_flight_requests correlation (spec §3,
// §4.2): ids only need to be unique per destination Buffer, so a single
// process-wide counter is sufficient and avoids a per-Buffer mutex.
func GenRequestID() uint64 { return reqCounter.Add(1) }

// Digest64 is a thin wrapper so callers don't need to reach into xxhash
// directly; kept separate from GenUUID since placement digests and id
// generation serve different call sites (affinity vs correlation).
func Digest64(b []byte) uint64 { return xxhash.Checksum64S(b, 0) }
