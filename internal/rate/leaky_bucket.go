// Package rate provides the global request-rate cap shared by all VUs.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/clock"
)

// LeakyBucket spaces requests evenly at a fixed rate.
//
// A token bucket answers "how many requests may go now". The leaky bucket
// answers "when may the next request go", which keeps the request stream
// smooth while the number of VUs changes.
//
// # Algorithm
//
// The bucket keeps the start time of the next free slot. Next hands out
// that slot and moves it forward by one interval (1/rate). If the slot is
// already in the past it is first pulled up to now, so idle time is never
// banked and at most one request starts immediately after a pause.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use from multiple goroutines. Slot
// reservation is serialized by a mutex; the counters behind Stats are
// atomics and may be read at any time.
//
// # Example
//
//	lb := rate.NewLeakyBucket(50, nil) // 50 requests per second
//
//	for {
//	    if err := lb.Wait(ctx); err != nil {
//	        return err
//	    }
//	    // send one request
//	}
type LeakyBucket struct {
	clock clock.Clock

	mu       sync.Mutex
	rate     float64 // requests per second
	interval time.Duration
	next     time.Time

	totalRequests atomic.Int64
	totalWait     atomic.Int64
}

// NewLeakyBucket creates a limiter admitting rps requests per second.
//
// Parameters:
//   - rps: Target requests per second. A non-positive rate falls back to 1.
//   - c: Time source. Nil uses the wall clock.
//
// The first slot is available immediately.
func NewLeakyBucket(rps float64, c clock.Clock) *LeakyBucket {
	if rps <= 0 {
		rps = 1
	}
	if c == nil {
		c = clock.Real()
	}
	return &LeakyBucket{
		clock:    c,
		rate:     rps,
		interval: time.Duration(float64(time.Second) / rps),
		next:     c.Now(),
	}
}

// Next reserves a slot and returns its start time.
//
// The returned time is now when the caller is behind schedule. Callers
// that do not use Wait must sleep until the returned time themselves.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()
	// Idle time is not banked.
	if lb.next.Before(now) {
		lb.next = now
	}
	slot := lb.next
	lb.next = slot.Add(lb.interval)

	lb.totalRequests.Add(1)
	lb.totalWait.Add(int64(slot.Sub(now)))
	return slot
}

// Wait reserves a slot and blocks until it starts.
//
// Returns ctx.Err() if ctx is done before the slot starts. The slot stays
// consumed in that case.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	d := lb.Next().Sub(lb.clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	return clock.Sleep(ctx, lb.clock, d)
}

// Rate returns the configured requests per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats reports limiter activity.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:          lb.Rate(),
		TotalRequests: lb.totalRequests.Load(),
		TotalWait:     time.Duration(lb.totalWait.Load()),
	}
}

// Stats contains statistics about the limiter.
type Stats struct {
	Rate          float64       `json:"rate"`
	TotalRequests int64         `json:"totalRequests"`
	TotalWait     time.Duration `json:"totalWait"`
}
