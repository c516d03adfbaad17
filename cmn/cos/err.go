// Package cos provides common low-level types and utilities shared across
// the streamer's packages.
/*
 * adapted from rockstar-0000-aistore/cmn/cos/err.go
 */
package cos

import (
	"errors"
	"fmt"
	"sync"
	ratomic "sync/atomic"
)

// Errs is a small, capped, deduplicated error aggregator -- used by
// Streamer.Flush to collect one failure per distinct batch without letting
// a pathological remap storm grow the error list unbounded.
type Errs struct {
	errs []error
	cnt  int64
	mu   sync.Mutex
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() string {
	cnt, err := e.JoinErr()
	if err == nil {
		return ""
	}
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more)", err, cnt-1)
	}
	return err.Error()
}
