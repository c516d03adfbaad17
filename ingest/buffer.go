package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kvgrid/streamer/cmn/cos"
	"github.com/kvgrid/streamer/cmn/debug"
	"github.com/kvgrid/streamer/cmn/nlog"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/stats"
	"github.com/kvgrid/streamer/transport"
)

// remapSentinel is the server-apply error payload that signals "retry with
// a fresh topology view" (spec §4.1 "partial apply returned remap
// required"); anything else in StreamResponse.Error is a terminal
// server-apply failure.
var remapSentinel = []byte("REMAP_REQUIRED")

type inflightReq struct {
	future *Future
}

// buffer is the Per-Node Buffer of spec §4.2: accumulates entries destined
// for one node, gates in-flight batches with a counting semaphore, and
// tracks outstanding requests by id. Exactly one buffer exists per live
// node_id, created lazily by the Streamer (spec §3 invariants).
type buffer struct {
	nodeID string
	// instanceID disambiguates this buffer's log lines from a
	// previously-removed-then-recreated buffer for the same nodeID (spec §3
	// "Buffer: created on first routing; removed ... when its node leaves").
	instanceID string
	node       *meta.Snode
	cfg        *Config
	sowner     meta.Sowner

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards pending + currentBatchFuture (spec §5 "suspension points")
	pending []Entry
	current *Future

	sem       *semaphore.Weighted // parallel_permits (spec §4.2)
	permitsUp atomic.Int64        // held permits, for the debug.Assert below only

	// in_flight_requests: a concurrent map, deliberately NOT under mu (spec
	// §5: "the only shared mutable state outside [the buffer mutex] is
	// in_flight_requests ... and parallel_permits").
	inflight sync.Map // request id (uint64) -> *inflightReq

	responseTopic string

	marshalled struct {
		sync.Mutex
		byMode map[ReceiverMode][]byte
	}
}

func newBuffer(nodeID string, node *meta.Snode, cfg *Config, sowner meta.Sowner, responseTopic string) *buffer {
	ctx, cancel := context.WithCancel(context.Background())
	b := &buffer{
		nodeID:        nodeID,
		instanceID:    cos.GenUUID(),
		node:          node,
		cfg:           cfg,
		sowner:        sowner,
		ctx:           ctx,
		cancel:        cancel,
		current:       newFuture(),
		sem:           semaphore.NewWeighted(int64(cfg.ParallelOps)),
		responseTopic: responseTopic,
	}
	b.marshalled.byMode = make(map[ReceiverMode][]byte)
	return b
}

func (b *buffer) isLocal() bool { return b.nodeID == b.cfg.LocalNodeID }

func (b *buffer) isNodeAlive() bool {
	smap := b.sowner.Get()
	return smap != nil && smap.GetNode(b.nodeID) != nil
}

// update implements spec §4.2 update(): register listener, append, and
// overflow-submit if the accumulator reached BufSize.
func (b *buffer) update(entries []Entry, v meta.TopologyVersion, listener func(error)) *Future {
	b.mu.Lock()
	b.current.OnComplete(listener)
	b.pending = append(b.pending, entries...)

	var (
		taken     []Entry
		submitted *Future
	)
	if len(b.pending) >= b.cfg.BufSize {
		taken = b.pending
		b.pending = nil
		submitted = b.current
		b.current = newFuture()
	}
	depth := len(b.pending)
	b.mu.Unlock()
	debug.Assertf(depth <= b.cfg.BufSize, "buffer[%s]: pending %d exceeds buf_size %d", b.nodeID, depth, b.cfg.BufSize)
	stats.BufferDepth.WithLabelValues(b.nodeID).Set(float64(depth))

	if taken == nil {
		return nil
	}
	go b.submit(taken, v, submitted)
	return submitted
}

// flush implements spec §4.2 flush(): swap out whatever is pending (if any)
// and return a compound future over it plus every still-outstanding request.
func (b *buffer) flush(v meta.TopologyVersion) *Future {
	b.mu.Lock()
	var submitted *Future
	if len(b.pending) > 0 {
		taken := b.pending
		b.pending = nil
		submitted = b.current
		b.current = newFuture()
		go b.submit(taken, v, submitted)
	}
	b.mu.Unlock()

	futures := make([]*Future, 0, 8)
	if submitted != nil {
		futures = append(futures, submitted)
	}
	b.inflight.Range(func(_, val any) bool {
		futures = append(futures, val.(*inflightReq).future)
		return true
	})
	if len(futures) == 0 {
		return nil
	}
	return compound(futures)
}

// acquirePermit blocks for one parallel_ops permit and keeps the
// debug-only held-permit counter in sync with the semaphore (spec §8
// "in_flight_requests.size + (pending non-empty ? 1 : 0) <= parallel_ops").
func (b *buffer) acquirePermit() error {
	if err := b.sem.Acquire(b.ctx, 1); err != nil {
		return err
	}
	n := b.permitsUp.Add(1)
	debug.Assertf(n <= int64(b.cfg.ParallelOps), "buffer[%s]: %d permits held exceeds parallel_ops %d", b.nodeID, n, b.cfg.ParallelOps)
	stats.ParallelPermitsInUse.WithLabelValues(b.nodeID).Inc()
	return nil
}

func (b *buffer) releasePermit() {
	b.permitsUp.Add(-1)
	b.sem.Release(1)
	stats.ParallelPermitsInUse.WithLabelValues(b.nodeID).Dec()
}

// submit implements spec §4.2 submit(): acquire a permit, then either run
// the local apply path or marshal and hand off to Transport.
func (b *buffer) submit(entries []Entry, v meta.TopologyVersion, target *Future) {
	if err := b.acquirePermit(); err != nil {
		target.Complete(b.ctxErr())
		return
	}
	stats.BatchesSubmitted.WithLabelValues(b.nodeID).Inc()
	start := time.Now()
	target.OnComplete(func(err error) {
		stats.SubmitLatency.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		stats.BatchesAcked.WithLabelValues(b.nodeID, outcome).Inc()
	})

	reqID := cos.GenRequestID()

	if b.isLocal() {
		b.inflight.Store(reqID, &inflightReq{future: target})
		err := b.cfg.LocalApply(entries, v)
		b.inflight.Delete(reqID)
		b.releasePermit()
		target.Complete(err)
		return
	}

	wireEntries, err := b.cfg.Encoder.MarshalEntries(entries)
	if err != nil {
		b.releasePermit()
		target.Complete(&ErrMarshal{Err: err})
		return
	}
	mode := ReceiverIsolated
	if b.cfg.AllowOverwrite {
		mode = ReceiverIndividual
	}
	receiver, err := b.marshalReceiver(mode)
	if err != nil {
		b.releasePermit()
		target.Complete(&ErrMarshal{Err: err})
		return
	}

	req := &transport.StreamRequest{
		RequestID:       reqID,
		ResponseTopic:   b.responseTopic,
		CacheName:       b.cfg.CacheName,
		Receiver:        receiver,
		Entries:         wireEntries,
		SkipStore:       b.cfg.SkipStore,
		TopologyVersion: v,
	}

	b.inflight.Store(reqID, &inflightReq{future: target})
	if err := b.cfg.Client.Send(b.node, req); err != nil {
		b.inflight.Delete(reqID)
		b.releasePermit()
		if b.isNodeAlive() {
			target.Complete(&ErrTransport{Node: b.nodeID, Err: err})
		} else {
			target.Complete(&ErrTopologyStale{Node: b.nodeID, Reason: "send rejected, destination no longer alive"})
		}
		return
	}
	// permit released on response arrival, see onResponse
}

func (b *buffer) marshalReceiver(mode ReceiverMode) ([]byte, error) {
	b.marshalled.Lock()
	defer b.marshalled.Unlock()
	if cached, ok := b.marshalled.byMode[mode]; ok {
		return cached, nil
	}
	bytes, err := b.cfg.Encoder.MarshalReceiver(mode)
	if err != nil {
		return nil, err
	}
	b.marshalled.byMode[mode] = bytes
	return bytes, nil
}

// onResponse implements spec §4.2 on_response(): correlate by request id,
// release the permit, and resolve the waiting future. A response with no
// matching request id is a late arrival after remap and is ignored.
func (b *buffer) onResponse(resp *transport.StreamResponse) {
	v, ok := b.inflight.LoadAndDelete(resp.RequestID)
	if !ok {
		nlog.Infof("buffer[%s/%s]: late response for request %d ignored", b.nodeID, b.instanceID, resp.RequestID)
		return
	}
	b.releasePermit()
	entry := v.(*inflightReq)

	var err error
	switch {
	case len(resp.Error) == 0:
		err = nil
	case string(resp.Error) == string(remapSentinel):
		err = &ErrTopologyStale{Node: b.nodeID, Reason: "server requested remap"}
	default:
		err = &ErrServerApply{Detail: resp.Error}
	}
	entry.future.Complete(err)
}

// onNodeLeft implements spec §4.2 on_node_left(): fail every in-flight
// request and the current (possibly still-accumulating) batch future with a
// topology error, uniformly, per the §9 Open Question resolution.
func (b *buffer) onNodeLeft() {
	err := &ErrTopologyStale{Node: b.nodeID, Reason: "node left cluster"}
	b.inflight.Range(func(key, val any) bool {
		val.(*inflightReq).future.Complete(err)
		b.inflight.Delete(key)
		return true
	})
	b.mu.Lock()
	b.current.Complete(err)
	b.mu.Unlock()
}

// cancelAll implements spec §4.2 cancel_all(): best-effort cancellation of
// local tasks (via ctx) and failing every in-flight/pending future with err.
func (b *buffer) cancelAll(err error) {
	if err == nil {
		err = &ErrCancelled{}
	}
	b.cancel() // interrupts any blocked sem.Acquire and local-apply contexts
	b.inflight.Range(func(key, val any) bool {
		val.(*inflightReq).future.Complete(err)
		b.inflight.Delete(key)
		return true
	})
	b.mu.Lock()
	b.current.Complete(err)
	b.mu.Unlock()
}

func (b *buffer) ctxErr() error {
	if b.ctx.Err() != nil {
		return &ErrCancelled{}
	}
	return b.ctx.Err()
}
