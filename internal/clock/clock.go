// Package clock provides a controllable notion of time so queue backoff,
// venue latency, and settlement delays run deterministically in tests.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock abstracts wall-clock access and delay scheduling.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the wall-clock implementation used in production.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// After returns a channel that fires once d has elapsed.
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d or until the context is cancelled.
func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Virtual is an in-memory clock advanced manually by tests. Waiters created
// with After or Sleep fire when Advance moves the clock past their deadline.
type Virtual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual initialises a virtual clock starting at the provided timestamp.
func NewVirtual(start time.Time) *Virtual {
	c := &Virtual{current: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the current simulated time.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires when the clock reaches now+d.
func (c *Virtual) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: deadline, ch: ch})
	c.cond.Broadcast()
	return ch
}

// BlockUntil returns once at least n waiters are parked on the clock. Tests
// use it to sequence goroutine sleeps against Advance calls.
func (c *Virtual) BlockUntil(n int) {
	c.mu.Lock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Sleep blocks until the clock advances past now+d or the context ends.
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Advance moves the clock forward by d and releases every waiter whose
// deadline has been reached.
func (c *Virtual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.fireLocked()
	c.mu.Unlock()
}

// AdvanceTo moves the clock to ts if it is in the future.
func (c *Virtual) AdvanceTo(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.current) {
		c.current = ts
		c.fireLocked()
	}
	c.mu.Unlock()
}

func (c *Virtual) fireLocked() {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.current) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- c.current
	}
	c.waiters = remaining
	c.cond.Broadcast()
}
