package bundle

import (
	"sync"
	"testing"
	"time"

	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/transport"
)

func smapWith(v int, ids ...string) *meta.Smap {
	tmap := meta.NodeMap{}
	for _, id := range ids {
		tmap[id] = &meta.Snode{DaemonID: id, URL: "mem://" + id}
	}
	return &meta.Smap{Version: meta.TopologyVersion{Major: uint64(v)}, Tmap: tmap}
}

func TestStreams_SendFailsForUnknownNode(t *testing.T) {
	mem := meta.NewStaticMembership(smapWith(1, "local"))
	lsnode := &meta.Snode{DaemonID: "local"}
	sb := New(mem, lsnode, func(_ *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
		return &transport.StreamResponse{RequestID: req.RequestID}
	}, 0)

	err := sb.Send(&meta.Snode{DaemonID: "ghost"}, &transport.StreamRequest{RequestID: 1})
	if err == nil {
		t.Fatalf("expected Send to fail for a node with no established conn")
	}
}

func TestStreams_SendDeliversResponseThroughRegisteredHandler(t *testing.T) {
	mem := meta.NewStaticMembership(smapWith(1, "local", "n1"))
	lsnode := &meta.Snode{DaemonID: "local"}
	sb := New(mem, lsnode, func(_ *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
		return &transport.StreamResponse{RequestID: req.RequestID}
	}, 0)

	var mu sync.Mutex
	var gotFrom string
	var gotResp *transport.StreamResponse
	done := make(chan struct{})
	if err := sb.Handle("topic-1", func(fromNode string, resp *transport.StreamResponse) {
		mu.Lock()
		gotFrom, gotResp = fromNode, resp
		mu.Unlock()
		close(done)
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	n1 := mem.Get().GetNode("n1")
	if err := sb.Send(n1, &transport.StreamRequest{RequestID: 42, ResponseTopic: "topic-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("response was never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotFrom != "n1" {
		t.Fatalf("expected response attributed to n1, got %s", gotFrom)
	}
	if gotResp.RequestID != 42 {
		t.Fatalf("expected RequestID 42, got %d", gotResp.RequestID)
	}
}

func TestStreams_ResyncDropsConnOnNodeRemoval(t *testing.T) {
	mem := meta.NewStaticMembership(smapWith(1, "local", "n1"))
	lsnode := &meta.Snode{DaemonID: "local"}
	sb := New(mem, lsnode, func(_ *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
		return &transport.StreamResponse{RequestID: req.RequestID}
	}, 0)

	n1 := &meta.Snode{DaemonID: "n1"}
	if err := sb.Send(n1, &transport.StreamRequest{RequestID: 1}); err != nil {
		t.Fatalf("expected initial send to n1 to succeed: %v", err)
	}

	mem.SetSmap(smapWith(2, "local"))
	sb.Resync()

	if err := sb.Send(n1, &transport.StreamRequest{RequestID: 2}); err == nil {
		t.Fatalf("expected send to n1 to fail once Resync dropped its conn")
	}
}

func TestStreams_HandleRejectsDuplicateTopic(t *testing.T) {
	mem := meta.NewStaticMembership(smapWith(1, "local"))
	lsnode := &meta.Snode{DaemonID: "local"}
	sb := New(mem, lsnode, func(_ *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
		return &transport.StreamResponse{RequestID: req.RequestID}
	}, 0)

	if err := sb.Handle("t", func(string, *transport.StreamResponse) {}); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := sb.Handle("t", func(string, *transport.StreamResponse) {}); err != transport.ErrTopicInUse {
		t.Fatalf("expected ErrTopicInUse, got %v", err)
	}
	if err := sb.Unhandle("t"); err != nil {
		t.Fatalf("Unhandle: %v", err)
	}
	if err := sb.Unhandle("t"); err != transport.ErrUnknownTopic {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}
