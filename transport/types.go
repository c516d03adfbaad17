// Package transport defines the RPC surface the streamer dispatches batched
// upserts over (spec §6 "Wire messages"). The transport itself -- the actual
// network client and the server-side apply logic -- is an external
// collaborator (spec §1); this package only fixes the wire shape and the
// Client/Dispatcher interfaces the streamer programs against.
/*
 * adapted from rockstar-0000-aistore/transport/api.go (ObjHdr/Obj/Extra shape)
 */
package transport

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/kvgrid/streamer/meta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WireEntry is one (key, value?) pair as it travels on the wire; a nil Value
// denotes deletion (spec §3 "Entry").
type WireEntry struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v,omitempty"`
}

// Deployment models peer-deploy/classloader negotiation (spec §9): an opaque
// envelope carried alongside requests whose Receiver ships user code.
// Implementations with no code-shipping capability leave it nil.
type Deployment struct {
	Mode          string   `json:"mode"`
	ClassName     string   `json:"class_name"`
	UserVersion   string   `json:"user_version"`
	Participants  []string `json:"participants,omitempty"`
	ClassloaderID string   `json:"classloader_id"`
}

// StreamRequest is one batch submission to a destination node (spec §6).
type StreamRequest struct {
	RequestID                uint64              `json:"request_id"`
	ResponseTopic             string              `json:"response_topic"`
	CacheName                 string              `json:"cache_name"`
	Receiver                  []byte              `json:"receiver"`
	Entries                   []WireEntry         `json:"entries"`
	IgnoreDeploymentTopology  bool                `json:"ignore_deployment_topology"`
	SkipStore                 bool                `json:"skip_store"`
	Deployment                *Deployment         `json:"deployment,omitempty"`
	TopologyVersion           meta.TopologyVersion `json:"topology_version"`
}

// StreamResponse correlates back to a StreamRequest by RequestID; a nil
// Error means success. Error bytes are opaque at this layer (spec §6) --
// unmarshalling them against a deployment's classloader context, if any, is
// the server-apply concern's job, not this package's.
type StreamResponse struct {
	RequestID uint64 `json:"request_id"`
	Error     []byte `json:"error,omitempty"`
}

// Marshal/Unmarshal use json-iterator's stdlib-compatible config so the wire
// format stays interoperable with a plain encoding/json peer while getting
// the teacher's usual marshal performance.
func (r *StreamRequest) Marshal() ([]byte, error)  { return json.Marshal(r) }
func UnmarshalRequest(b []byte) (*StreamRequest, error) {
	r := &StreamRequest{}
	err := json.Unmarshal(b, r)
	return r, err
}

func (r *StreamResponse) Marshal() ([]byte, error) { return json.Marshal(r) }
func UnmarshalResponse(b []byte) (*StreamResponse, error) {
	r := &StreamResponse{}
	err := json.Unmarshal(b, r)
	return r, err
}
