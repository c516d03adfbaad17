package ingest

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v3"

	"github.com/kvgrid/streamer/transport"
)

// LZ4Encoder is an Encoder that lz4-compresses each entry's value before it
// goes on the wire, trading CPU for bandwidth on the batches Buffer.submit
// hands to Transport -- the same tradeoff the teacher's cmn/archive package
// makes available for object writes via pierrec/lz4. Keys are left
// uncompressed since the affinity routing step already consumed them
// before MarshalEntries ever runs, and compressing a handful of routing
// bytes isn't worth the framing overhead. Deletions (nil Value) pass
// through untouched.
type LZ4Encoder struct {
	// CompressionLevel is passed to lz4.Writer's Header; zero selects the
	// library's default.
	CompressionLevel int
}

func (e LZ4Encoder) MarshalEntries(entries []Entry) ([]transport.WireEntry, error) {
	out := make([]transport.WireEntry, len(entries))
	for i, entry := range entries {
		if entry.IsDeletion() {
			out[i] = transport.WireEntry{Key: entry.Key}
			continue
		}
		compressed, err := e.compress(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("ingest: lz4 compress entry %d: %w", i, err)
		}
		out[i] = transport.WireEntry{Key: entry.Key, Value: compressed}
	}
	return out, nil
}

func (e LZ4Encoder) compress(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	zw.Header.CompressionLevel = e.CompressionLevel
	if _, err := zw.Write(value); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalReceiver tags the receiver mode so the server-side apply logic
// (external, spec §1) knows to lz4-decompress each entry's value before
// handing it to the normal isolated/individual receiver path.
func (LZ4Encoder) MarshalReceiver(mode ReceiverMode) ([]byte, error) {
	return []byte("lz4:" + mode.String()), nil
}
