// Package agent implements the concurrent units that react to bus events:
// Senses, Brain, Executor, Historian and the Ragnarok kill switch.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"predict_go/internal/event"
)

// Agent is a unit of concurrent behaviour. Start performs its subscriptions
// and returns without blocking.
type Agent interface {
	Name() string
	Start(ctx context.Context) error
	Log(msg string, args ...any)
}

// Base carries what every agent shares: identity, the bus, a tagged logger,
// kill observation and a goroutine group.
type Base struct {
	name   string
	bus    *event.Bus
	logger *slog.Logger

	halted atomic.Bool
	onKill func()
	wg     sync.WaitGroup
}

// NewBase creates the shared agent state.
func NewBase(name string, bus *event.Bus, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		name:   name,
		bus:    bus,
		logger: logger.With("agent", name),
	}
}

// Name returns the agent identity.
func (b *Base) Name() string { return b.name }

// Logger returns the agent's tagged logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Log writes a structured line and publishes it on the agent.log topic so the
// historian archives every agent's diagnostics in the same shape.
func (b *Base) Log(msg string, args ...any) {
	b.logger.Info(msg, args...)
	b.bus.Publish(context.Background(), event.TopicAgentLog, b.name, map[string]any{
		"message": msg,
		"fields":  fields(args),
	})
}

// Halted reports whether the kill event has been observed.
func (b *Base) Halted() bool { return b.halted.Load() }

// watchKill subscribes to the kill broadcast. onKill, if set, runs once.
func (b *Base) watchKill() error {
	return b.bus.Subscribe(event.TopicKill, b.name, func(ctx context.Context, ev event.Event) error {
		if b.halted.CompareAndSwap(false, true) {
			b.logger.Warn("kill observed, accepting no new work", "reason", ev.String("reason"))
			if b.onKill != nil {
				b.onKill()
			}
		}
		return nil
	})
}

// Go runs fn in the agent's goroutine group.
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("AGENT_PANIC", "panic", fmt.Sprint(r))
			}
		}()
		fn()
	}()
}

// Wait blocks until every goroutine started with Go has returned.
func (b *Base) Wait() { b.wg.Wait() }

// fields turns slog-style key/value pairs into a JSON-friendly map.
func fields(args []any) map[string]any {
	out := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		switch v := args[i+1].(type) {
		case error:
			out[key] = v.Error()
		case fmt.Stringer:
			out[key] = v.String()
		default:
			out[key] = v
		}
	}
	return out
}
