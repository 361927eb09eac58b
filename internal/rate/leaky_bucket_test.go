package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/clock"
)

func TestNewLeakyBucket(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected float64
	}{
		{"positive rate", 100.0, 100.0},
		{"zero rate defaults to 1", 0.0, 1.0},
		{"negative rate defaults to 1", -10.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLeakyBucket(tt.rate, nil)
			if lb.Rate() != tt.expected {
				t.Errorf("Rate() = %v, want %v", lb.Rate(), tt.expected)
			}
		})
	}
}

func TestLeakyBucket_Next_ImmediateFirst(t *testing.T) {
	lb := NewLeakyBucket(100.0, clock.Real())

	now := time.Now()
	next := lb.Next()

	if diff := next.Sub(now); diff > 10*time.Millisecond {
		t.Errorf("first Next() should be immediate, got delay of %v", diff)
	}
}

func TestLeakyBucket_Next_Spacing(t *testing.T) {
	lb := NewLeakyBucket(100.0, clock.Real())

	first := lb.Next()
	second := lb.Next()
	third := lb.Next()

	gap := third.Sub(second)
	if gap < 9*time.Millisecond || gap > 11*time.Millisecond {
		t.Errorf("gap between reserved slots = %v, want ~10ms", gap)
	}
	if !second.After(first) {
		t.Errorf("second slot %v not after first %v", second, first)
	}
}

func TestLeakyBucket_ConcurrentWait(t *testing.T) {
	lb := NewLeakyBucket(200.0, clock.Real())

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lb.Wait(context.Background()); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// 20 requests at 200/s need at least 19 gaps of 5ms.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("20 waits finished in %v, expected at least ~95ms", elapsed)
	}
	if got := lb.Stats().TotalRequests; got != 20 {
		t.Errorf("TotalRequests = %d, want 20", got)
	}
}

func TestLeakyBucket_WaitCancelled(t *testing.T) {
	lb := NewLeakyBucket(0.5, clock.Real())
	_ = lb.Next()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := lb.Wait(ctx); err == nil {
		t.Error("Wait() on cancelled context should fail")
	}
}
