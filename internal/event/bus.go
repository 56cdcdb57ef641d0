package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"predict_go/internal/infra"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// Handler reacts to one delivered event. Errors are logged, never propagated.
//
// A handler that publishes should pass on the ctx it was given: Publish then
// queues the handler's own copy of the event without waiting on it, since
// it cannot run before the current call returns. Cycles across two or more
// subscribers still wait up to the budget at each hop.
type Handler func(ctx context.Context, ev Event) error

// handlingKey marks a context passed to a handler with its subscriber.
type handlingKey struct{}

type delivery struct {
	ev   Event
	done chan struct{}
}

type subscriber struct {
	name    string
	topic   string
	handler Handler
	inbox   chan delivery
}

// Bus is the in-process publish/subscribe router.
//
// Each subscriber drains its own FIFO inbox in a dedicated goroutine, so a
// subscriber sees a topic's events in publish order. Publish hands the event to
// subscribers in registration order and waits for each one up to the handler
// budget before moving on: a slow handler delays the rest by at most the budget.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscriber
	closed bool

	budget    time.Duration
	inboxSize int
	metrics   *infra.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithBudget sets how long Publish waits on each handler.
func WithBudget(d time.Duration) Option { return func(b *Bus) { b.budget = d } }

// WithInboxSize sets the per-subscriber buffer length.
func WithInboxSize(n int) Option { return func(b *Bus) { b.inboxSize = n } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *infra.Metrics) Option { return func(b *Bus) { b.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		topics:    make(map[string][]*subscriber),
		budget:    250 * time.Millisecond,
		inboxSize: 256,
		metrics:   infra.GlobalMetrics,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bus")
	return b
}

// Subscribe appends handler to topic's handler list. name identifies the
// subscriber in logs.
func (b *Bus) Subscribe(topic, name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	sub := &subscriber{
		name:    name,
		topic:   topic,
		handler: handler,
		inbox:   make(chan delivery, b.inboxSize),
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.wg.Add(1)
	go b.run(sub)
	return nil
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish builds an Event and delivers it to every handler currently
// registered for topic. A topic without subscribers drops the event.
// Publish returns once every handler finished or used up its budget.
func (b *Bus) Publish(ctx context.Context, topic, sender string, payload map[string]any) Event {
	ev := Event{
		ID:        infra.MustID(infra.PrefixEvent),
		Timestamp: time.Now().UTC(),
		Sender:    sender,
		Topic:     topic,
		Payload:   maps.Clone(payload),
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	b.metrics.RecordPublish()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("publish after close dropped", "topic", topic, "sender", sender)
		return ev
	}
	subs := make([]*subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.metrics.RecordUndelivered()
		b.logger.Debug("no subscribers", "topic", topic, "sender", sender)
		return ev
	}

	self, _ := ctx.Value(handlingKey{}).(*subscriber)
	for _, sub := range subs {
		d := delivery{ev: ev, done: make(chan struct{})}
		select {
		case sub.inbox <- d:
		default:
			b.metrics.RecordDropped()
			b.logger.Warn("subscriber inbox full, delivery dropped",
				"topic", topic, "subscriber", sub.name, "event_id", ev.ID)
			continue
		}
		if sub == self {
			continue
		}
		if !b.wait(ctx, sub, d) {
			break
		}
	}
	return ev
}

// wait blocks until the delivery is handled or the budget elapses.
// It returns false if the publisher should stop dispatching.
func (b *Bus) wait(ctx context.Context, sub *subscriber, d delivery) bool {
	timer := time.NewTimer(b.budget)
	defer timer.Stop()

	select {
	case <-d.done:
		return true
	case <-timer.C:
		b.metrics.RecordOverrun()
		b.logger.Warn("handler exceeded dispatch budget",
			"topic", sub.topic, "subscriber", sub.name, "budget", b.budget)
		return true
	case <-ctx.Done():
		return false
	case <-b.quit:
		return false
	}
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case d := <-sub.inbox:
			b.invoke(sub, d)
		case <-b.quit:
			// Drain what was already accepted.
			for {
				select {
				case d := <-sub.inbox:
					b.invoke(sub, d)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) invoke(sub *subscriber, d delivery) {
	start := time.Now()
	failed := true
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("HANDLER_PANIC",
				"topic", sub.topic, "subscriber", sub.name, "event_id", d.ev.ID, "panic", fmt.Sprint(r))
		}
		b.metrics.RecordHandler(time.Since(start).Nanoseconds(), failed)
		close(d.done)
	}()

	if err := sub.handler(context.WithValue(b.ctx, handlingKey{}, sub), d.ev); err != nil {
		b.logger.Error("handler failed",
			"topic", sub.topic, "subscriber", sub.name, "event_id", d.ev.ID, "error", err)
		return
	}
	failed = false
}

// Close stops accepting publishes and subscriptions, lets every subscriber
// drain its inbox and waits for them. If ctx ends first the handler context
// is cancelled and ctx.Err() is returned.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.quit)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}
