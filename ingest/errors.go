// Package ingest implements the streamer state machine: the Streamer Core
// and Per-Node Buffer described in spec §4, plus the Topology Listener glue
// in topology.go.
/*
 * error taxonomy adapted from rockstar-0000-aistore/cmn/cos/err.go's tagged-type idiom
 */
package ingest

import (
	"fmt"
)

// ErrClosed: the streamer is already closed; rejected at ingress (spec §7).
type ErrClosed struct{}

func (*ErrClosed) Error() string { return "streamer: closed" }

// ErrDisconnected: the client has been detached from the cluster; every
// future resolves with this, and subsequent ingress fails with it too.
type ErrDisconnected struct{}

func (*ErrDisconnected) Error() string { return "streamer: disconnected from cluster" }

// ErrTopologyEmpty: the affinity set for some key is empty; not retried.
type ErrTopologyEmpty struct {
	Key []byte
}

func (e *ErrTopologyEmpty) Error() string {
	return fmt.Sprintf("streamer: no node hosts key %q", e.Key)
}

// ErrTopologyStale: destination departed, or a batch was rejected for
// remap; retried up to MaxRemap times before becoming ErrRemapExhausted.
type ErrTopologyStale struct {
	Node   string
	Reason string
}

func (e *ErrTopologyStale) Error() string {
	return fmt.Sprintf("streamer: topology stale for node %s: %s", e.Node, e.Reason)
}

// ErrMarshal: keys/values/receiver could not be serialised; no retry.
type ErrMarshal struct {
	Err error
}

func (e *ErrMarshal) Error() string { return fmt.Sprintf("streamer: marshal failed: %v", e.Err) }
func (e *ErrMarshal) Unwrap() error { return e.Err }

// ErrTransport: low-level send failure surfaced directly because the
// destination is still known alive (see ErrTopologyStale for the opposite
// case).
type ErrTransport struct {
	Node string
	Err  error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("streamer: transport error to %s: %v", e.Node, e.Err)
}
func (e *ErrTransport) Unwrap() error { return e.Err }

// ErrServerApply: unmarshalled from the response's error bytes; no retry.
type ErrServerApply struct {
	Detail []byte
}

func (e *ErrServerApply) Error() string {
	return fmt.Sprintf("streamer: server-apply error: %s", e.Detail)
}

// ErrRemapExhausted: the remap count for an operation exceeded MaxRemap.
type ErrRemapExhausted struct {
	MaxRemap int
}

func (e *ErrRemapExhausted) Error() string {
	return fmt.Sprintf("streamer: too many remaps (> %d)", e.MaxRemap)
}

// ErrCancelled: the streamer has been cancelled; surfaced to all pending
// operations (spec §5 "Cancellation").
type ErrCancelled struct{}

func (*ErrCancelled) Error() string { return "streamer: cancelled" }

func IsErrClosed(err error) bool          { _, ok := err.(*ErrClosed); return ok }
func IsErrDisconnected(err error) bool    { _, ok := err.(*ErrDisconnected); return ok }
func IsErrTopologyEmpty(err error) bool   { _, ok := err.(*ErrTopologyEmpty); return ok }
func IsErrTopologyStale(err error) bool   { _, ok := err.(*ErrTopologyStale); return ok }
func IsErrMarshal(err error) bool         { _, ok := err.(*ErrMarshal); return ok }
func IsErrTransport(err error) bool       { _, ok := err.(*ErrTransport); return ok }
func IsErrServerApply(err error) bool     { _, ok := err.(*ErrServerApply); return ok }
func IsErrRemapExhausted(err error) bool  { _, ok := err.(*ErrRemapExhausted); return ok }
func IsErrCancelled(err error) bool       { _, ok := err.(*ErrCancelled); return ok }

// isRetryable reports whether err should drive the remap loop rather than
// fail the operation outright (spec §4.1 "Retryable failure").
func isRetryable(err error) bool {
	return IsErrTopologyStale(err)
}
