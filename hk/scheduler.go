// Package hk implements the Auto-Flush Scheduler of spec §4.4: a delay
// queue ordered by each registration's next-due time, drained by a single
// background worker.
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kvgrid/streamer/cmn/mono"
	"github.com/kvgrid/streamer/cmn/nlog"
)

type item struct {
	id       string
	interval time.Duration
	fn       func()
	due      int64 // mono.NanoTime() deadline
	index    int

	running   bool
	cancelled bool
}

type priorityQueue []*item

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].due < pq[j].due }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// Scheduler is the delay queue described in spec §4.4: a background worker
// removes the earliest-due registration, invokes its try_flush callback
// (which must not propagate errors -- see ingest.Streamer.TryFlush), then
// re-enqueues it at now+interval.
type Scheduler struct {
	mu    sync.Mutex
	items map[string]*item
	pq    priorityQueue

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewScheduler starts the worker goroutine and returns the Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		items:   make(map[string]*item),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Schedule registers or replaces the registration for id so that fn fires
// roughly every interval starting interval from now.
func (s *Scheduler) Schedule(id string, interval time.Duration, fn func()) {
	s.mu.Lock()
	if it, ok := s.items[id]; ok {
		it.interval = interval
		it.fn = fn
		it.cancelled = false
		if !it.running {
			it.due = mono.NanoTime() + int64(interval)
			heap.Fix(&s.pq, it.index)
		}
		s.mu.Unlock()
		s.signal()
		return
	}
	it := &item{id: id, interval: interval, fn: fn, due: mono.NanoTime() + int64(interval)}
	s.items[id] = it
	heap.Push(&s.pq, it)
	s.mu.Unlock()
	s.signal()
}

// Unschedule deregisters id; a no-op if id is unknown or already removed.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return
	}
	if it.running {
		// the worker is mid-callback for this id; mark it so the worker's
		// post-callback re-enqueue is skipped instead of racing a heap op here.
		it.cancelled = true
		return
	}
	heap.Remove(&s.pq, it.index)
	delete(s.items, id)
}

// Stop terminates the worker goroutine; Schedule/Unschedule after Stop are
// no-ops from the worker's perspective (the queue simply stops draining).
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.pq) == 0 {
			wait = time.Hour
		} else {
			now := mono.NanoTime()
			due := s.pq[0].due
			if due <= now {
				it := heap.Pop(&s.pq).(*item)
				it.running = true
				s.mu.Unlock()
				runSafely(it.fn)
				s.mu.Lock()
				it.running = false
				if it.cancelled {
					delete(s.items, it.id)
				} else {
					it.due = mono.NanoTime() + int64(it.interval)
					heap.Push(&s.pq, it)
				}
				s.mu.Unlock()
				continue
			}
			wait = time.Duration(due - now)
		}
		s.mu.Unlock()

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-time.After(wait):
		}
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: auto-flush callback panicked: %v", r)
		}
	}()
	fn()
}
