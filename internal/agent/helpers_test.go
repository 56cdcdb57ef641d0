package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra"
)

// memQueue is an in-memory domain.Queue storing JSON like the durable one.
type memQueue struct {
	mu    sync.Mutex
	lanes map[domain.Lane][][]byte
	dead  map[domain.Lane][][]byte
	err   error
}

func newMemQueue() *memQueue {
	return &memQueue{lanes: make(map[domain.Lane][][]byte), dead: make(map[domain.Lane][][]byte)}
}

func (q *memQueue) fail(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
}

func (q *memQueue) Push(ctx context.Context, lane domain.Lane, item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	q.lanes[lane] = append(q.lanes[lane], raw)
	return nil
}

func (q *memQueue) Pop(ctx context.Context, lane domain.Lane, out any) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	items := q.lanes[lane]
	if len(items) == 0 {
		return false, nil
	}
	q.lanes[lane] = items[1:]
	if err := json.Unmarshal(items[0], out); err != nil {
		q.dead[lane] = append(q.dead[lane], items[0])
		return false, fmt.Errorf("%w: %v", domain.ErrUndecodable, err)
	}
	return true, nil
}

func (q *memQueue) Size(ctx context.Context, lane domain.Lane) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	return int64(len(q.lanes[lane])), nil
}

// memLedger is an in-memory domain.SignalLedger.
type memLedger struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (l *memLedger) Append(ctx context.Context, s domain.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, s)
	return nil
}

func (l *memLedger) Latest(ctx context.Context, n int) ([]domain.Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Signal, 0, n)
	for i := len(l.signals) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.signals[i])
	}
	return out, nil
}

func (l *memLedger) all() []domain.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Signal(nil), l.signals...)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder collects events of one topic.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(t *testing.T, bus *event.Bus, topic string) *recorder {
	t.Helper()
	r := &recorder{}
	if err := bus.Subscribe(topic, "test-recorder", func(_ context.Context, ev event.Event) error {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return r
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBus(t *testing.T) *event.Bus {
	t.Helper()
	bus := event.NewBus(
		event.WithBudget(time.Second),
		event.WithMetrics(&infra.Metrics{}),
		event.WithLogger(testLogger()),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})
	return bus
}

// testVault is 1000.00 of principal with an 800.00 floor.
func testVault() domain.VaultState {
	return domain.VaultState{
		Principal:  100000,
		HardFloor:  80000,
		DailyGoal:  5000,
		ProfitLock: 2500,
		Balance:    100000,
	}
}
