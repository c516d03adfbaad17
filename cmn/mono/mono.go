//go:build !mono

// Package mono provides low-level monotonic time
/*
 * portable fallback
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic nanosecond counter, portable fallback for
// the linkname-based fast path in fast_nanotime.go.
func NanoTime() int64 { return int64(time.Since(start)) }
