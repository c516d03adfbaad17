package ingest

import (
	"context"
	"sync"
)

// Future models the Operation Future / batch future of spec §3: pending ->
// succeeded|failed|cancelled, with Complete idempotent (first write wins) so
// races between on_response, on_node_left, and cancel_all never panic or
// double-resolve.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	fired     bool
	listeners []func(error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// OnComplete registers a listener; if the Future already resolved, the
// listener fires synchronously and immediately (matching the spec's "a
// Buffer's current_batch_future is replaced, not mutated, at every overflow
// or flush; listeners attached before the swap observe the pre-swap batch" --
// the only way to "attach after resolution" is to attach to the very
// future that already carries the answer).
func (f *Future) OnComplete(cb func(error)) {
	f.mu.Lock()
	if f.fired {
		err := f.err
		f.mu.Unlock()
		cb(err)
		return
	}
	f.listeners = append(f.listeners, cb)
	f.mu.Unlock()
}

// Complete resolves the future exactly once; subsequent calls are no-ops,
// which is what lets on_node_left and on_response race safely against each
// other (spec §9 Open Question resolution).
func (f *Future) Complete(err error) {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		return
	}
	f.fired = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()

	close(f.done)
	for _, cb := range listeners {
		cb(err)
	}
}

func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future resolves or ctx is done, whichever comes first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compound returns a Future that resolves once every future in fs has
// resolved; its error is the first non-nil error observed, if any (spec
// §4.2 Buffer.flush's "compound future").
func compound(fs []*Future) *Future {
	cf := newFuture()
	if len(fs) == 0 {
		cf.Complete(nil)
		return cf
	}
	var (
		mu       sync.Mutex
		firstErr error
		left     = len(fs)
	)
	for _, f := range fs {
		f.OnComplete(func(err error) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			left--
			done := left == 0
			fe := firstErr
			mu.Unlock()
			if done {
				cf.Complete(fe)
			}
		})
	}
	return cf
}
