package ingest

import "github.com/kvgrid/streamer/transport"

// ReceiverMode selects the server-side apply semantics (spec GLOSSARY):
// Isolated is write-if-absent (fast bulk ingest, "skip if present"),
// Individual is a per-entry overwriting put through the normal cache API.
type ReceiverMode int

const (
	ReceiverIsolated ReceiverMode = iota
	ReceiverIndividual
)

func (m ReceiverMode) String() string {
	if m == ReceiverIndividual {
		return "individual"
	}
	return "isolated"
}

// Encoder is the injected marshalling capability (spec §1: "Marshalling of
// keys, values, and receiver code ... is delegated ... the encoder is an
// injected capability"). It is the only place wire bytes get produced, so a
// caller who wants compression, schema validation, or a different
// serialization entirely only has to implement this.
type Encoder interface {
	// MarshalEntries converts local Entry values into wire form.
	MarshalEntries(entries []Entry) ([]transport.WireEntry, error)
	// MarshalReceiver produces the opaque receiver-code bytes for the given
	// mode; Buffer caches the result per (node, mode) pair since it does not
	// change between batches (spec §4.2 "lazily cache marshalled receiver").
	MarshalReceiver(mode ReceiverMode) ([]byte, error)
}

// IdentityEncoder is the reference Encoder used by tests and cmd/streamload:
// keys/values pass through unchanged, and the receiver "code" is just its
// mode name -- there is no real classloader negotiation without a server.
type IdentityEncoder struct{}

func (IdentityEncoder) MarshalEntries(entries []Entry) ([]transport.WireEntry, error) {
	out := make([]transport.WireEntry, len(entries))
	for i, e := range entries {
		out[i] = transport.WireEntry{Key: e.Key, Value: e.Value}
	}
	return out, nil
}

func (IdentityEncoder) MarshalReceiver(mode ReceiverMode) ([]byte, error) {
	return []byte(mode.String()), nil
}
