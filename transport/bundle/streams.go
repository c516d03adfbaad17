// Package bundle provides a reference transport.Client/Dispatcher that
// multiplexes per-destination connections and resyncs them off Smap changes,
// the way the teacher's transport/bundle manages per-node object streams.
// The real RPC + server-apply logic is external (spec §1); Apply is the seam
// where a caller plugs that in (or, in tests, a deterministic stand-in).
/*
 * adapted from rockstar-0000-aistore/transport/bundle/{stream_bundle,dmover}.go
 */
package bundle

import (
	"fmt"
	"sync"
	"time"

	"github.com/kvgrid/streamer/cmn/nlog"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/transport"
)

// Apply simulates "send over the wire, server applies, response comes back":
// in production this boundary is the real RPC client plus the server-side
// apply logic (both external per spec §1); Streams only owns the
// per-destination connection bookkeeping around it.
type Apply func(node *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse

type conn struct {
	node *meta.Snode
}

// Streams is a concrete transport.Client + transport.Dispatcher: it keeps
// one conn per live destination node, torn down and rebuilt on every Smap
// change (mirrors Streams.Resync in stream_bundle.go), and asynchronously
// delivers responses to whatever RecvResponse is registered for a request's
// ResponseTopic.
type Streams struct {
	sowner meta.Sowner
	lsnode *meta.Snode
	apply  Apply
	delay  time.Duration // simulated RPC latency; exercises Buffer's parallel-ops gating in tests

	mu    sync.Mutex
	smap  *meta.Smap
	conns map[string]*conn

	hmu      sync.Mutex
	handlers map[string]transport.RecvResponse
}

var (
	_ transport.Client     = (*Streams)(nil)
	_ transport.Dispatcher = (*Streams)(nil)
	_ meta.Slistener       = (*Streams)(nil)
)

func New(sowner meta.Sowner, lsnode *meta.Snode, apply Apply, delay time.Duration) *Streams {
	sb := &Streams{
		sowner:   sowner,
		lsnode:   lsnode,
		apply:    apply,
		delay:    delay,
		smap:     &meta.Smap{Tmap: meta.NodeMap{}},
		conns:    make(map[string]*conn),
		handlers: make(map[string]transport.RecvResponse),
	}
	sb.Resync()
	sowner.Listeners().Reg(sb)
	return sb
}

func (sb *Streams) ListenSmapChanged() { sb.Resync() }

// Resync rebuilds the conn set off the current Smap; slowpath, called under
// lock, swap-not-mutate like the teacher's Resync.
func (sb *Streams) Resync() {
	smap := sb.sowner.Get()
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if smap == nil || !sb.smap.Version.Less(smap.Version) {
		return
	}
	added, removed := meta.Diff(sb.smap.Tmap, smap.Tmap)
	nconns := make(map[string]*conn, len(smap.Tmap))
	for id, c := range sb.conns {
		nconns[id] = c
	}
	for id, si := range added {
		if id == sb.lsnode.ID() {
			continue
		}
		nconns[id] = &conn{node: si}
	}
	for id := range removed {
		delete(nconns, id)
	}
	sb.conns = nconns
	sb.smap = smap
}

// Send dispatches req asynchronously; a missing conn means the destination
// isn't (or is no longer) a live node, surfaced as a send failure so Buffer
// can fold it into the remap path (spec §7 "Transport"). req and the
// resulting response are round-tripped through their Marshal methods and
// transport.UnmarshalRequest/UnmarshalResponse to exercise the actual wire codec rather than handing the in-memory
// struct straight to apply -- the same json-iterator encoding a real RPC
// client would put on the wire (spec §6 "Wire messages").
func (sb *Streams) Send(node *meta.Snode, req *transport.StreamRequest) error {
	sb.mu.Lock()
	_, ok := sb.conns[node.ID()]
	sb.mu.Unlock()
	if !ok {
		return &transport.ErrSendFailed{Node: node.ID(), Err: fmt.Errorf("no stream to %s", node.ID())}
	}

	wire, err := req.Marshal()
	if err != nil {
		return &transport.ErrSendFailed{Node: node.ID(), Err: err}
	}

	go func() {
		if sb.delay > 0 {
			time.Sleep(sb.delay)
		}
		onWire, err := transport.UnmarshalRequest(wire)
		if err != nil {
			nlog.Errorf("bundle: request to %s failed to decode off the wire: %v", node.ID(), err)
			return
		}
		resp := sb.apply(node, onWire)
		respWire, err := resp.Marshal()
		if err != nil {
			nlog.Errorf("bundle: response from %s failed to encode onto the wire: %v", node.ID(), err)
			return
		}
		decoded, err := transport.UnmarshalResponse(respWire)
		if err != nil {
			nlog.Errorf("bundle: response from %s failed to decode off the wire: %v", node.ID(), err)
			return
		}
		sb.hmu.Lock()
		recv := sb.handlers[onWire.ResponseTopic]
		sb.hmu.Unlock()
		if recv != nil {
			recv(node.ID(), decoded)
		}
	}()
	return nil
}

func (sb *Streams) Handle(topic string, recv transport.RecvResponse) error {
	sb.hmu.Lock()
	defer sb.hmu.Unlock()
	if _, exists := sb.handlers[topic]; exists {
		return transport.ErrTopicInUse
	}
	sb.handlers[topic] = recv
	return nil
}

func (sb *Streams) Unhandle(topic string) error {
	sb.hmu.Lock()
	defer sb.hmu.Unlock()
	if _, exists := sb.handlers[topic]; !exists {
		return transport.ErrUnknownTopic
	}
	delete(sb.handlers, topic)
	return nil
}
