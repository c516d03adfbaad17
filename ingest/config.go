package ingest

import (
	"fmt"
	"time"

	"github.com/kvgrid/streamer/affinity"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/transport"
)

// Config is the streamer's configurable properties (spec §6 "Configurable
// properties"), validated once at construction -- there is no hot-reload
// path; AllowOverwrite and AutoFlushInterval are the only knobs with a
// dedicated runtime setter (spec §4.1).
type Config struct {
	CacheName string // the cache/bucket this streamer ingests into

	BufSize     int // >0; per-node accumulator capacity before overflow-submit
	ParallelOps int // >0; per-node concurrent in-flight batch cap

	AutoFlushInterval time.Duration // >=0; 0 deregisters from the auto-flush scheduler
	SkipStore         bool          // passed through on StreamRequest
	AllowOverwrite    bool          // primary-only routing + individual receiver when true

	// MaxRemap caps how many times one operation may be re-routed after a
	// retryable failure (spec §8). nil (the zero value, i.e. simply not set)
	// means DefaultMaxRemap; a non-nil *0 is a legal, distinct configuration
	// meaning no remap is permitted at all, so the first retryable failure
	// fails the operation immediately with ErrRemapExhausted.
	MaxRemap *int

	LocalNodeID string // this process's node id, for is_local_node routing

	Oracle     affinity.Oracle
	Client     transport.Client
	Dispatcher transport.Dispatcher
	Sowner     meta.Sowner
	Encoder    Encoder

	// Membership is optional: when set, the Streamer starts a Topology
	// Listener (spec §4.3) that reacts to node-left/node-failed/disconnect
	// events. A caller that drives redistribution some other way may omit it.
	Membership meta.Membership

	// Scheduler is optional: when set together with AutoFlushInterval > 0,
	// the Streamer registers with it (spec §4.4).
	Scheduler AutoFlushScheduler

	// LocalApply runs entries destined for LocalNodeID in-process, bypassing
	// the Transport entirely (spec §3 "is_local_node").
	LocalApply func(entries []Entry, v meta.TopologyVersion) error
}

const DefaultMaxRemap = 32

func (c *Config) validate() error {
	if c.BufSize <= 0 {
		return fmt.Errorf("ingest: BufSize must be > 0, got %d", c.BufSize)
	}
	if c.ParallelOps <= 0 {
		return fmt.Errorf("ingest: ParallelOps must be > 0, got %d", c.ParallelOps)
	}
	if c.AutoFlushInterval < 0 {
		return fmt.Errorf("ingest: AutoFlushInterval must be >= 0, got %s", c.AutoFlushInterval)
	}
	if c.MaxRemap == nil {
		d := DefaultMaxRemap
		c.MaxRemap = &d
	} else if *c.MaxRemap < 0 {
		return fmt.Errorf("ingest: MaxRemap must be >= 0, got %d", *c.MaxRemap)
	}
	if c.Oracle == nil || c.Client == nil || c.Dispatcher == nil || c.Sowner == nil {
		return fmt.Errorf("ingest: Oracle, Client, Dispatcher, and Sowner are required")
	}
	if c.Encoder == nil {
		c.Encoder = IdentityEncoder{}
	}
	if c.LocalNodeID == "" {
		return fmt.Errorf("ingest: LocalNodeID is required")
	}
	if c.LocalApply == nil {
		c.LocalApply = func(entries []Entry, _ meta.TopologyVersion) error {
			return fmt.Errorf("ingest: LocalApply not configured, cannot apply %d entries locally", len(entries))
		}
	}
	return nil
}
