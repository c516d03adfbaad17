// Package affinity defines the Affinity Oracle external collaborator (spec
// §1, §6): the pure function mapping a key to its owning nodes at a given
// topology version. The cluster's actual placement function lives outside
// this module; HRW is provided as a reference implementation for tests and
// for cmd/streamload's demo harness.
package affinity

import (
	"context"

	"github.com/kvgrid/streamer/meta"
)

// Oracle is the external collaborator the Streamer Core calls on every
// routing step (spec §4.1 step 2). Implementations must be a stable
// function of (cache, key, topologyVersion): same inputs, same answer.
type Oracle interface {
	// MapPrimaryAndBackups returns the full replica set for key, primary
	// first; an empty, nil-error result means "no node known to host cache"
	// (spec's Topology-empty error).
	MapPrimaryAndBackups(cache string, key []byte, v meta.TopologyVersion) ([]*meta.Snode, error)
	// MapPrimary returns only the primary, used when AllowOverwrite routes
	// to a single destination (spec §4.1 "Warm receiver switch").
	MapPrimary(cache string, key []byte, v meta.TopologyVersion) (*meta.Snode, error)
	// Ready blocks until the oracle can answer queries at topology version v
	// (or ctx is done); the Topology Listener relies on this to avoid
	// looping on a stale view (spec §4.3).
	Ready(ctx context.Context, v meta.TopologyVersion) error
}
