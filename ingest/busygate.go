package ingest

import "sync"

// busyGate is the shared/exclusive lifecycle gate of spec §5 "Busy lock /
// quiescence": ingress operations (add, flush) hold the shared side while
// they run; close takes the exclusive side after recording closed/cancelled,
// which only succeeds once every shared holder has released -- guaranteeing
// no ingress is mid-flight during teardown.
//
// A sync.RWMutex supplies exactly this shape (RLock = shared, Lock =
// exclusive) without reimplementing a reader/writer lock by hand.
type busyGate struct {
	rw sync.RWMutex

	mu        sync.Mutex
	closedErr error // set once, under mu, before the exclusive acquire in close()
}

// enterBusy implements spec §5 "enter_busy": acquire the shared token unless
// a terminal cause (closed/disconnected) has already been recorded.
func (g *busyGate) enterBusy() (func(), error) {
	g.mu.Lock()
	err := g.closedErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.rw.RLock()

	// re-check: a close() racing with this call may have taken the
	// exclusive lock and recorded closedErr between our first check and
	// RLock; re-read so a straggler ingress never runs unobserved.
	g.mu.Lock()
	err = g.closedErr
	g.mu.Unlock()
	if err != nil {
		g.rw.RUnlock()
		return nil, err
	}
	return g.rw.RUnlock, nil
}

// exclusive records cause as the gate's terminal error and blocks until
// every current shared holder has released, then runs fn. Subsequent
// enterBusy calls observe cause forever after.
func (g *busyGate) exclusive(cause error, fn func()) {
	g.mu.Lock()
	if g.closedErr == nil {
		g.closedErr = cause
	}
	g.mu.Unlock()

	g.rw.Lock()
	defer g.rw.Unlock()
	fn()
}

// recordDisconnect sets the disconnect cause ahead of the exclusive close
// (spec §5 "Disconnect handling": the recorded disconnect error is
// thereafter returned from any enter_busy attempt, even before close
// finishes draining).
func (g *busyGate) recordDisconnect(err error) {
	g.mu.Lock()
	if g.closedErr == nil {
		g.closedErr = err
	}
	g.mu.Unlock()
}
