// Package ingest implements the streamer state machine: the Streamer Core
// and Per-Node Buffer described in spec §4, plus the Topology Listener glue
// in topology.go and the auto-flush registration glue here.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvgrid/streamer/cmn/cos"
	"github.com/kvgrid/streamer/cmn/nlog"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/stats"
	"github.com/kvgrid/streamer/transport"
)

// AutoFlushScheduler is the Auto-Flush Scheduler collaborator (spec §4.4);
// hk.Scheduler implements it. Schedule re-registers (replacing any existing
// registration) id to fire fn roughly every interval; Unschedule deregisters.
type AutoFlushScheduler interface {
	Schedule(id string, interval time.Duration, fn func())
	Unschedule(id string)
}

// Streamer is the user-facing controller of spec §4.1: owns a node_id ->
// Buffer map, the set of pending operation futures (implicitly, via each
// operation's own accounting), and the global flags (skip_store,
// allow_overwrite, max_remap, auto_flush_interval).
type Streamer struct {
	// id is the auto-flush scheduler registration key and the identity
	// tagged onto this streamer's log lines; a cos.GenUUID() suffix keeps it
	// unique across multiple streamers sharing a (LocalNodeID, CacheName)
	// pair in the same process, e.g. concurrent tests.
	id string
	cfg *Config

	gate busyGate

	mu      sync.Mutex
	buffers map[string]*buffer

	overwriteMu sync.Mutex

	cancelled atomic.Bool

	topoStop chan struct{}
	topoDone chan struct{}
}

// New constructs a Streamer, registers its response-topic handler with the
// Transport Dispatcher, and (if cfg.Membership is set) starts the Topology
// Listener (spec §4.3).
func New(cfg Config) (*Streamer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Streamer{
		id:       cfg.LocalNodeID + "/" + cfg.CacheName + "/" + cos.GenUUID(),
		cfg:      &cfg,
		buffers:  make(map[string]*buffer),
		topoStop: make(chan struct{}),
		topoDone: make(chan struct{}),
	}

	topic := transport.ResponseTopic(cfg.LocalNodeID)
	if err := cfg.Dispatcher.Handle(topic, s.onResponse); err != nil {
		return nil, err
	}

	if cfg.Membership != nil {
		go s.runTopologyListener(cfg.Membership)
	} else {
		close(s.topoDone)
	}

	if cfg.AutoFlushInterval > 0 && cfg.Scheduler != nil {
		cfg.Scheduler.Schedule(s.id, cfg.AutoFlushInterval, s.TryFlush)
	}
	return s, nil
}

func (s *Streamer) onResponse(fromNode string, resp *transport.StreamResponse) {
	s.mu.Lock()
	buf := s.buffers[fromNode]
	s.mu.Unlock()
	if buf == nil {
		nlog.Infof("streamer: response from unknown/departed node %s ignored", fromNode)
		return
	}
	buf.onResponse(resp)
}

func (s *Streamer) getOrCreateBuffer(node *meta.Snode) *buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[node.DaemonID]; ok {
		return b
	}
	b := newBuffer(node.DaemonID, node, s.cfg, s.cfg.Sowner, transport.ResponseTopic(s.cfg.LocalNodeID))
	s.buffers[node.DaemonID] = b
	return b
}

// Add implements spec §4.1 add(): entries maps key -> value, nil value
// meaning deletion.
func (s *Streamer) Add(entries map[string][]byte) (*Future, error) {
	es := make([]Entry, 0, len(entries))
	for k, v := range entries {
		es = append(es, Entry{Key: []byte(k), Value: v})
	}
	stats.EntriesAdded.Add(float64(len(es)))
	return s.submitOp(es)
}

// Remove implements spec §4.1 remove(key): a single deletion entry.
func (s *Streamer) Remove(key []byte) (*Future, error) {
	stats.EntriesAdded.Add(1)
	return s.submitOp([]Entry{{Key: key, Value: nil}})
}

func (s *Streamer) submitOp(entries []Entry) (*Future, error) {
	release, err := s.gate.enterBusy()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.route(entries, 0), nil
}

// opState tracks one caller-visible operation future across however many
// node-groups it was split into, and across however many remap generations
// those groups go through (spec §3 "Operation Future").
type opState struct {
	future    *Future
	mu        sync.Mutex
	remaining int
}

func (o *opState) succeedOne() {
	o.mu.Lock()
	o.remaining--
	done := o.remaining == 0
	o.mu.Unlock()
	if done {
		o.future.Complete(nil)
	}
}

// dropOne removes a group's slot from remaining without resolving the
// future, used right before that group's replacement mapping(s) are counted
// by the routeInto recursion that retries it -- otherwise a retried group's
// original slot is never released and remaining never reaches zero (it is
// replaced, not simply added to).
func (o *opState) dropOne() {
	o.mu.Lock()
	o.remaining--
	o.mu.Unlock()
}

func (o *opState) fail(err error) {
	o.future.Complete(err)
}

// route implements spec §4.1's routing/remap loop for one generation (remap
// count r) over the given entries; it returns the single caller-visible
// Future the first time it is called (r==0) and drives resubmission
// internally on retryable failures for r>0.
func (s *Streamer) route(entries []Entry, r int) *Future {
	op := &opState{future: newFuture()}
	s.routeInto(entries, r, op)
	return op.future
}

func (s *Streamer) routeInto(entries []Entry, r int, op *opState) {
	if s.cancelled.Load() {
		op.fail(&ErrCancelled{})
		return
	}
	smap := s.cfg.Sowner.Get()
	T := smap.Version

	mappings := make(map[string][]Entry)
	nodes := make(map[string]*meta.Snode)
	for _, e := range entries {
		var targets []*meta.Snode
		var err error
		if s.allowOverwrite() {
			var primary *meta.Snode
			primary, err = s.cfg.Oracle.MapPrimary(s.cfg.CacheName, e.Key, T)
			if primary != nil {
				targets = []*meta.Snode{primary}
			}
		} else {
			targets, err = s.cfg.Oracle.MapPrimaryAndBackups(s.cfg.CacheName, e.Key, T)
		}
		if err != nil {
			// the oracle raced a topology change mid-query; nothing has been
			// dispatched to any Buffer yet this generation, so this folds into
			// the same retryable-failure handling as a post-dispatch remap.
			// onGroupComplete's retry branch always drops one slot via
			// dropOne() before re-dispatching, so this whole-entries group
			// needs its slot counted first, symmetric with a normally
			// dispatched group's contribution to op.remaining.
			op.mu.Lock()
			op.remaining++
			op.mu.Unlock()
			s.onGroupComplete(&ErrTopologyStale{Reason: err.Error()}, entries, r, op)
			return
		}
		if len(targets) == 0 {
			op.fail(&ErrTopologyEmpty{Key: e.Key})
			return
		}
		for _, n := range targets {
			mappings[n.DaemonID] = append(mappings[n.DaemonID], e)
			nodes[n.DaemonID] = n
		}
	}

	op.mu.Lock()
	op.remaining += len(mappings)
	op.mu.Unlock()

	for nodeID, group := range mappings {
		node := nodes[nodeID]
		buf := s.getOrCreateBuffer(node)
		group := group

		returned := buf.update(group, T, func(err error) {
			s.onGroupComplete(err, group, r, op)
		})

		if !s.nodeAlive(nodeID) {
			s.mu.Lock()
			if s.buffers[nodeID] == buf {
				delete(s.buffers, nodeID)
			}
			s.mu.Unlock()
			go buf.onNodeLeft()
			if returned != nil {
				returned.Complete(&ErrTopologyStale{Node: nodeID, Reason: "node left during routing"})
			}
		}
	}
}

func (s *Streamer) onGroupComplete(err error, group []Entry, r int, op *opState) {
	if err == nil {
		op.succeedOne()
		return
	}
	if !isRetryable(err) {
		op.fail(err)
		return
	}
	if s.cancelled.Load() {
		op.fail(&ErrCancelled{})
		return
	}
	if r+1 > *s.cfg.MaxRemap {
		stats.RemapExhaustedTotal.Inc()
		op.fail(&ErrRemapExhausted{MaxRemap: *s.cfg.MaxRemap})
		return
	}
	stats.RemapsTotal.Inc()
	op.dropOne()
	s.routeInto(group, r+1, op)
}

func (s *Streamer) nodeAlive(nodeID string) bool {
	smap := s.cfg.Sowner.Get()
	return smap != nil && smap.GetNode(nodeID) != nil
}

func (s *Streamer) allowOverwrite() bool {
	s.overwriteMu.Lock()
	defer s.overwriteMu.Unlock()
	return s.cfg.AllowOverwrite
}

// AllowOverwrite implements spec §4.1 allow_overwrite(bool): switches
// between isolated and individual receiver modes. Requires at least one
// live node as the closest local proxy for "must observe a server node
// hosting the cache" (see DESIGN.md).
func (s *Streamer) AllowOverwrite(v bool) error {
	smap := s.cfg.Sowner.Get()
	if smap == nil || len(smap.Tmap) == 0 {
		return &ErrTopologyEmpty{}
	}
	s.overwriteMu.Lock()
	s.cfg.AllowOverwrite = v
	s.overwriteMu.Unlock()
	return nil
}

// SetAutoFlushInterval implements spec §4.1 auto_flush_interval(ms): 0
// deregisters from the Auto-Flush Scheduler.
func (s *Streamer) SetAutoFlushInterval(d time.Duration) {
	s.cfg.AutoFlushInterval = d
	if s.cfg.Scheduler == nil {
		return
	}
	if d <= 0 {
		s.cfg.Scheduler.Unschedule(s.id)
		return
	}
	s.cfg.Scheduler.Schedule(s.id, d, s.TryFlush)
}

func (s *Streamer) snapshotBuffers() []*buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		out = append(out, b)
	}
	return out
}

// Flush implements spec §4.1 flush(): returns once every pending batch has
// acked and every caller future has resolved. Distinct per-buffer failures
// are deduplicated and capped rather than collapsed to "first error wins",
// since a caller flushing many destinations at once wants to see more than
// one node's failure when several fail differently.
func (s *Streamer) Flush() error {
	release, err := s.gate.enterBusy()
	if err != nil {
		return err
	}
	defer release()
	return s.drain(s.snapshotBuffers())
}

// drain fans every buffer's flush() out onto its own errgroup goroutine so
// a slow node's acknowledgment doesn't serialize behind every other node's,
// mirroring the fan-out shape of fs/walkbck.go and dsort/dsort.go. The
// group's own first-error-wins return is unused; every future's failure is
// instead folded into the capped, deduplicated cos.Errs (spec §7 "flush
// aggregates" wants more than just the first node's failure surfaced).
func (s *Streamer) drain(buffers []*buffer) error {
	T := s.cfg.Sowner.Get().Version
	futures := make([]*Future, 0, len(buffers))
	for _, b := range buffers {
		if f := b.flush(T); f != nil {
			futures = append(futures, f)
		}
	}
	var errs cos.Errs
	var g errgroup.Group
	for _, f := range futures {
		f := f
		g.Go(func() error {
			if err := f.Wait(context.Background()); err != nil {
				errs.Add(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if errs.Cnt() == 0 {
		return nil
	}
	return &errs
}

// TryFlush implements spec §4.1 try_flush(): best-effort, never propagates
// errors -- meant to be called from the Auto-Flush Scheduler's worker.
func (s *Streamer) TryFlush() {
	if err := s.Flush(); err != nil {
		nlog.Infof("streamer %s: try_flush observed %v (swallowed)", s.id, err)
	}
}

// Close implements spec §4.1 close(cancel): idempotent; cancel=false drains,
// cancel=true aborts every in-flight batch.
func (s *Streamer) Close(cancel bool) error {
	var drainErr error
	cause := error(&ErrClosed{})
	if cancel {
		s.cancelled.Store(true)
		cause = &ErrCancelled{}
	}

	s.gate.exclusive(cause, func() {
		select {
		case <-s.topoStop: // already closed by an earlier Close
		default:
			close(s.topoStop)
		}
		<-s.topoDone

		if cancel {
			for _, b := range s.snapshotBuffers() {
				b.cancelAll(&ErrCancelled{})
			}
		} else {
			drainErr = s.drain(s.snapshotBuffers())
		}

		if s.cfg.Scheduler != nil {
			s.cfg.Scheduler.Unschedule(s.id)
		}
		_ = s.cfg.Dispatcher.Unhandle(transport.ResponseTopic(s.cfg.LocalNodeID))

		s.mu.Lock()
		s.buffers = make(map[string]*buffer)
		s.mu.Unlock()
	})

	return drainErr
}

// onDisconnect implements spec §5 "Disconnect handling": every Buffer's
// in-flight requests fail with a disconnect error, the disconnect cause is
// recorded ahead of close so every subsequent enter_busy observes it, and
// the Streamer Core is closed with cancel=true.
func (s *Streamer) onDisconnect() {
	err := &ErrDisconnected{}
	s.gate.recordDisconnect(err)
	for _, b := range s.snapshotBuffers() {
		b.cancelAll(err)
	}
	_ = s.Close(true)
}
