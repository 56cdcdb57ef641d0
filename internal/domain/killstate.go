package domain

import (
	"sync"
	"sync/atomic"
)

// RunState is the process-wide lifecycle phase. Transitions only move forward.
type RunState int32

const (
	StateRunning RunState = iota
	StateShuttingDown
	StateTerminated
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// KillState is a one-way RUNNING -> SHUTTING_DOWN -> TERMINATED latch.
// Decisions taken under Guard complete before any transition does.
type KillState struct {
	v  atomic.Int32
	mu sync.RWMutex
}

// Load returns the current state.
func (k *KillState) Load() RunState {
	return RunState(k.v.Load())
}

// Running reports whether trade-affecting decisions are still allowed.
func (k *KillState) Running() bool {
	return k.Load() == StateRunning
}

// Advance moves to next if next is later than the current state.
// It returns false if the state was already at or past next.
// It waits for running Guard calls to return.
func (k *KillState) Advance(next RunState) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for {
		cur := k.v.Load()
		if RunState(cur) >= next {
			return false
		}
		if k.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Guard runs fn with transitions held off. fn must not call Advance.
func (k *KillState) Guard(fn func(running bool)) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	fn(k.Running())
}
