// adapted from rockstar-0000-aistore/fs/hrw.go -- rendezvous (HRW) hashing
// over the current Smap's target set, used as a deterministic stand-in for
// the cluster's real placement function in tests and demos.
package affinity

import (
	"context"
	"sort"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/meta/xoshiro256"
)

type candidate struct {
	node   *meta.Snode
	weight uint64
}

// HRW implements Oracle via highest-random-weight hashing, consulting a
// live meta.Sowner so its answers track Smap changes without needing a
// separate Ready signal of its own (it becomes ready at v the moment the
// Sowner's Smap reaches v).
type HRW struct {
	sowner meta.Sowner
	cache  string // name of the cache/bucket this oracle is scoped to
}

func NewHRW(sowner meta.Sowner, cache string) *HRW {
	return &HRW{sowner: sowner, cache: cache}
}

func uname(cache string, key []byte) []byte {
	b := make([]byte, 0, len(cache)+1+len(key))
	b = append(b, cache...)
	b = append(b, '/')
	b = append(b, key...)
	return b
}

func (h *HRW) rank(key []byte, v meta.TopologyVersion) ([]*meta.Snode, error) {
	smap := h.sowner.Get()
	if smap == nil || !smap.Version.Equal(v) {
		return nil, ErrStaleView
	}
	digest := xxhash.Checksum64S(uname(h.cache, key), 0)
	cands := make([]candidate, 0, len(smap.Tmap))
	for _, node := range smap.Tmap {
		pd := xxhash.Checksum64S([]byte(node.DaemonID), 0)
		cands = append(cands, candidate{node: node, weight: xoshiro256.Hash(pd ^ digest)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].weight > cands[j].weight })
	out := make([]*meta.Snode, len(cands))
	for i, c := range cands {
		out[i] = c.node
	}
	return out, nil
}

func (h *HRW) MapPrimaryAndBackups(_ string, key []byte, v meta.TopologyVersion) ([]*meta.Snode, error) {
	return h.rank(key, v)
}

func (h *HRW) MapPrimary(_ string, key []byte, v meta.TopologyVersion) (*meta.Snode, error) {
	ranked, err := h.rank(key, v)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0], nil
}

func (h *HRW) Ready(ctx context.Context, v meta.TopologyVersion) error {
	if smap := h.sowner.Get(); smap != nil && !smap.Version.Less(v) {
		return nil
	}
	// best-effort poll; a real membership-backed oracle would instead block
	// on a version-change notification
	t := time.NewTicker(readyPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if smap := h.sowner.Get(); smap != nil && !smap.Version.Less(v) {
				return nil
			}
		}
	}
}

const readyPollInterval = 5 * time.Millisecond
