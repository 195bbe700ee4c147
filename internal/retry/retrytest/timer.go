// Package retrytest provides helpers for observing retry schedules in tests.
package retrytest

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Timer fires immediately and records every requested delay.
type Timer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func NewTimer() *Timer {
	return &Timer{c: make(chan time.Time, 1)}
}

// Factory adapts t to retry.WithTimer.
func (t *Timer) Factory() func() backoff.Timer {
	return func() backoff.Timer { return t }
}

func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *Timer) Stop() {}

func (t *Timer) C() <-chan time.Time { return t.c }

// Delays returns the waits requested so far, in order.
func (t *Timer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}
