package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/transport"
)

// fakeOracle is a test-controlled affinity.Oracle: routing is an explicit
// key->nodes table rather than a real placement function, so scenarios can
// pin exactly which node(s) an entry lands on.
type fakeOracle struct {
	mu     sync.Mutex
	routes map[string][]*meta.Snode
}

func newFakeOracle() *fakeOracle { return &fakeOracle{routes: make(map[string][]*meta.Snode)} }

func (o *fakeOracle) route(key string, nodes ...*meta.Snode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes[key] = nodes
}

func (o *fakeOracle) MapPrimaryAndBackups(_ string, key []byte, _ meta.TopologyVersion) ([]*meta.Snode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.routes[string(key)], nil
}

func (o *fakeOracle) MapPrimary(cache string, key []byte, v meta.TopologyVersion) (*meta.Snode, error) {
	nodes, err := o.MapPrimaryAndBackups(cache, key, v)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

func (*fakeOracle) Ready(context.Context, meta.TopologyVersion) error { return nil }

// stepSowner returns a prescribed sequence of Smap snapshots, one per Get()
// call, repeating the last entry once the sequence is exhausted -- used to
// deterministically simulate "a node departs between routing and send"
// (spec §8 scenario 2) without a real race.
type stepSowner struct {
	mu    sync.Mutex
	steps []*meta.Smap
	calls int
	ls    *meta.Listeners
}

func newStepSowner(steps ...*meta.Smap) *stepSowner {
	return &stepSowner{steps: steps, ls: meta.NewListeners()}
}

func (s *stepSowner) Get() *meta.Smap {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	return s.steps[idx]
}

func (s *stepSowner) Listeners() *meta.Listeners { return s.ls }

func smapOf(nodes ...*meta.Snode) *meta.Smap {
	tmap := meta.NodeMap{}
	for _, n := range nodes {
		tmap[n.DaemonID] = n
	}
	return &meta.Smap{Version: meta.TopologyVersion{Major: 1}, Tmap: tmap}
}

// fakeTransport is a controllable transport.Client + transport.Dispatcher:
// Send either fails per-node (sendErr) or hands off to apply asynchronously
// after delay, then delivers the StreamResponse to whatever handler is
// registered for the request's ResponseTopic.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]transport.RecvResponse
	sendErr  map[string]error
	sent     []*transport.StreamRequest

	apply func(node *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]transport.RecvResponse),
		sendErr:  make(map[string]error),
		apply: func(_ *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
			return &transport.StreamResponse{RequestID: req.RequestID}
		},
	}
}

func (f *fakeTransport) failNode(nodeID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr[nodeID] = err
}

func (f *fakeTransport) Handle(topic string, recv transport.RecvResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handlers[topic]; exists {
		return transport.ErrTopicInUse
	}
	f.handlers[topic] = recv
	return nil
}

func (f *fakeTransport) Unhandle(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handlers[topic]; !exists {
		return transport.ErrUnknownTopic
	}
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) Send(node *meta.Snode, req *transport.StreamRequest) error {
	f.mu.Lock()
	if err, ok := f.sendErr[node.DaemonID]; ok {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, req)
	recv := f.handlers[req.ResponseTopic]
	applyFn := f.apply
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	go func() {
		resp := applyFn(node, req)
		f.inFlight.Add(-1)
		if recv != nil {
			recv(node.DaemonID, resp)
		}
	}()
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// blockingTransport accepts every Send but never delivers a response, used
// for scenario 6 (close(cancel=true) while a response is in flight).
type blockingTransport struct {
	mu       sync.Mutex
	handlers map[string]transport.RecvResponse
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{handlers: make(map[string]transport.RecvResponse)}
}

func (b *blockingTransport) Handle(topic string, recv transport.RecvResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = recv
	return nil
}

func (b *blockingTransport) Unhandle(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *blockingTransport) Send(_ *meta.Snode, _ *transport.StreamRequest) error {
	return nil // accepted, response withheld indefinitely
}

func nodeOf(id string) *meta.Snode { return &meta.Snode{DaemonID: id, URL: "fake://" + id} }

func identityEncoder() Encoder { return IdentityEncoder{} }

func intPtr(v int) *int { return &v }

func mustNotPanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()
	fn()
	return nil
}
