package transport

import (
	"errors"
	"fmt"

	"github.com/kvgrid/streamer/meta"
)

// RecvResponse is the signature the streamer registers to receive
// StreamResponse deliveries (spec §6 "Receive"): the listener dispatches by
// the response's originating node id to the right Per-Node Buffer.
type RecvResponse func(fromNode string, resp *StreamResponse)

// Client sends a StreamRequest to a node; failure is observed either via the
// returned error (send-time rejection) or, on success, asynchronously via a
// later StreamResponse delivered to whatever RecvResponse was registered for
// the request's ResponseTopic (spec §6 "Send").
type Client interface {
	Send(node *meta.Snode, req *StreamRequest) error
}

// Dispatcher registers/unregisters the per-topic response listener; in
// production this binds to the real RPC layer's inbound handler table.
type Dispatcher interface {
	Handle(topic string, recv RecvResponse) error
	Unhandle(topic string) error
}

// ErrSendFailed wraps a low-level send failure (spec §7 "Transport"); Buffer
// decides whether it is terminal or remappable based on whether the
// destination is still known alive.
type ErrSendFailed struct {
	Node string
	Err  error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("transport: send to %s failed: %v", e.Node, e.Err)
}

func (e *ErrSendFailed) Unwrap() error { return e.Err }

// ErrTopicInUse/ErrUnknownTopic guard Dispatcher misuse.
var (
	ErrTopicInUse    = errors.New("transport: response topic already handled")
	ErrUnknownTopic  = errors.New("transport: unregister of unknown topic")
)

// ResponseTopic is the per-local-node topic the streamer registers on at
// startup (spec §6: "topic = stream_topic(local_node_uuid)").
func ResponseTopic(localNodeUUID string) string {
	return "stream-responses." + localNodeUUID
}
