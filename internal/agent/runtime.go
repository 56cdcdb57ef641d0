package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
)

type waiter interface{ Wait() }

// Runtime owns the root context, starts agents and joins them on shutdown.
type Runtime struct {
	bus      *event.Bus
	kill     *domain.KillState
	logger   *slog.Logger
	grace    time.Duration
	ragnarok *Ragnarok

	mu     sync.Mutex
	agents []Agent

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRuntime derives the root context from parent.
func NewRuntime(parent context.Context, bus *event.Bus, kill *domain.KillState, grace time.Duration, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runtime{
		bus:    bus,
		kill:   kill,
		logger: logger.With("component", "runtime"),
		grace:  grace,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the root context cancelled on termination.
func (r *Runtime) Context() context.Context { return r.ctx }

// Terminate cancels the root context.
func (r *Runtime) Terminate() { r.cancel() }

// Add registers agents in start order. A Ragnarok is remembered for Killed.
func (r *Runtime) Add(agents ...Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		if rg, ok := a.(*Ragnarok); ok {
			r.ragnarok = rg
		}
		r.agents = append(r.agents, a)
	}
}

// Agents returns the number of registered agents.
func (r *Runtime) Agents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Start starts every agent in registration order.
func (r *Runtime) Start() error {
	r.mu.Lock()
	agents := append([]Agent(nil), r.agents...)
	r.mu.Unlock()

	for _, a := range agents {
		if err := a.Start(r.ctx); err != nil {
			return fmt.Errorf("start %s: %w", a.Name(), err)
		}
	}
	r.logger.Info("agents started", "count", len(agents))
	return nil
}

// State returns the process-wide kill state.
func (r *Runtime) State() domain.RunState { return r.kill.Load() }

// Killed reports whether the run ended through the kill switch.
func (r *Runtime) Killed() bool {
	return r.ragnarok != nil && r.ragnarok.Triggered()
}

// Wait blocks until the root context ends, then joins agents and closes the
// bus within the grace period and marks the run TERMINATED.
func (r *Runtime) Wait() {
	<-r.ctx.Done()
	r.kill.Advance(domain.StateShuttingDown)

	r.mu.Lock()
	agents := append([]Agent(nil), r.agents...)
	r.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		for _, a := range agents {
			if w, ok := a.(waiter); ok {
				w.Wait()
			}
		}
		close(joined)
	}()

	deadline := time.NewTimer(r.grace)
	defer deadline.Stop()
	select {
	case <-joined:
	case <-deadline.C:
		r.logger.Warn("agents did not stop within grace period", "grace", r.grace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.grace)
	defer cancel()
	if err := r.bus.Close(ctx); err != nil {
		r.logger.Warn("bus did not drain within grace period", "error", err)
	}

	r.kill.Advance(domain.StateTerminated)
	r.logger.Info("runtime terminated", "killed", r.Killed())
}
