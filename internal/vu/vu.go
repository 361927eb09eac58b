// Package vu implements virtual users and the iteration executor that runs
// one pass of a task on behalf of a VU.
package vu

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a Virtual User.
type State int32

const (
	// StateIdle indicates the VU is not running iterations. A VU starts and
	// finishes its life in this state.
	StateIdle State = iota
	// StateRunning indicates the VU is looping iterations back to back.
	StateRunning
	// StateDraining indicates the VU will exit after its current iteration.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// VirtualUser represents a single simulated user executing iterations.
//
// Each VU has its own:
// - Iteration counter
// - Variable scope (values carried between iterations, e.g. a session token)
// - Lifecycle state
//
// VUs are created by the scheduler; iterations run through an Executor.
//
// # Lifecycle
//
// A VU moves idle -> running -> draining -> idle. Start moves it to
// running, RequestDrain to draining, and MarkIdle records that its worker
// has exited. A finished VU cannot be started again.
//
// # Thread Safety
//
// State transitions and the iteration counter are atomic. The variable
// scope is guarded by its own RWMutex so extraction in one iteration and
// templating in the next never race. Start must happen before the worker
// goroutine is launched; StartedAt is not synchronized.
type VirtualUser struct {
	// ID is unique within a run.
	ID int

	state atomic.Int32

	drainCh   chan struct{}
	drainOnce sync.Once
	doneCh    chan struct{}
	doneOnce  sync.Once

	iteration atomic.Int64

	data   map[string]string
	dataMu sync.RWMutex

	startedAt time.Time
}

// New creates an idle Virtual User.
//
// Parameters:
//   - id: Identifier, unique within a run. Used as the {{vu}} template value.
func New(id int) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		drainCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		data:    make(map[string]string),
	}
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() State {
	return State(vu.state.Load())
}

// Iterations returns the number of iterations this VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// StartedAt returns when Start was called.
func (vu *VirtualUser) StartedAt() time.Time {
	return vu.startedAt
}

// Start moves an idle VU to running.
//
// Parameters:
//   - now: Start time reported by StartedAt
//
// Returns false if the VU was not idle or has already finished.
func (vu *VirtualUser) Start(now time.Time) bool {
	select {
	case <-vu.doneCh:
		return false
	default:
	}
	if !vu.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return false
	}
	vu.startedAt = now
	return true
}

// RequestDrain asks the VU to stop after the iteration in flight. It is safe
// to call more than once and from any goroutine.
func (vu *VirtualUser) RequestDrain() {
	vu.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	vu.drainOnce.Do(func() { close(vu.drainCh) })
}

// ShouldStop reports whether the VU must not start another iteration.
func (vu *VirtualUser) ShouldStop() bool {
	select {
	case <-vu.drainCh:
		return true
	default:
		return false
	}
}

// MarkIdle records that the VU's worker has exited.
func (vu *VirtualUser) MarkIdle() {
	vu.state.Store(int32(StateIdle))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

func (vu *VirtualUser) nextIteration() int64 {
	return vu.iteration.Add(1) - 1
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key, value string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (string, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// Data returns a copy of the VU's variable scope.
func (vu *VirtualUser) Data() map[string]string {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	out := make(map[string]string, len(vu.data))
	for k, v := range vu.data {
		out[k] = v
	}
	return out
}
