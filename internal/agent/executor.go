package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/service"
)

// Settler resolves an execution record into a settlement.
type Settler interface {
	Execute(ctx context.Context, rec domain.ExecutionRecord) (domain.Settlement, error)
}

// ExecutorConfig controls polling and escalation.
type ExecutorConfig struct {
	PollInterval time.Duration
	MaxFailures  int // consecutive storage failures before raising an emergency
}

// Executor drains the executions lane and settles each record.
type Executor struct {
	*Base
	queue    domain.Queue
	settler  Settler
	treasury *service.Treasury
	metrics  *infra.Metrics
	cfg      ExecutorConfig

	failures  int
	escalated bool
}

// NewExecutor creates the settlement agent.
func NewExecutor(bus *event.Bus, queue domain.Queue, settler Settler, treasury *service.Treasury,
	metrics *infra.Metrics, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	return &Executor{
		Base:     NewBase("executor", bus, logger),
		queue:    queue,
		settler:  settler,
		treasury: treasury,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Start runs the polling loop until ctx ends or the kill is observed.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.watchKill(); err != nil {
		return err
	}
	e.Go(func() { e.loop(ctx) })
	e.Log("executor started")
	return nil
}

func (e *Executor) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if e.Halted() {
			e.logger.Info("executor loop stopped after kill")
			return
		}
		for e.Step(ctx) {
		}
	}
}

// Step settles at most one queued record and reports whether another may follow.
// Only the executor's own loop (or a test driving it) may call Step.
func (e *Executor) Step(ctx context.Context) bool {
	if e.Halted() || ctx.Err() != nil {
		return false
	}

	var rec domain.ExecutionRecord
	ok, err := e.queue.Pop(ctx, domain.LaneExecutions, &rec)
	switch {
	case errors.Is(err, domain.ErrUndecodable):
		e.logger.Warn("execution record moved to dead letters", "error", err)
		return true
	case domain.IsRetriable(err):
		e.storageFailure(ctx, "pop execution", err)
		return false
	case err != nil:
		e.logger.Error("pop execution failed", "error", err)
		return false
	}
	e.failures = 0
	if !ok {
		return false
	}

	s, err := e.settler.Execute(ctx, rec)
	switch {
	case err == nil:
		e.metrics.RecordSettlement()
		payload, perr := event.Payload(s)
		if perr != nil {
			e.logger.Error("encode settlement", "error", perr)
			return true
		}
		e.bus.Publish(ctx, event.TopicSettled, e.name, payload)
		e.logger.Info("settled", "ticker", s.Ticker, "won", s.Won, "pnl", s.PnLCents, "balance", s.Balance)
		return true

	case errors.Is(err, domain.ErrShuttingDown):
		// Put it back for the next run; the pop already committed. A requeued
		// record keeps its stake reserved.
		if perr := e.queue.Push(ctx, domain.LaneExecutions, rec); perr != nil {
			e.logger.Error("requeue after cancellation failed", "execution_id", rec.ID, "error", perr)
			e.release(ctx, rec)
		}
		return false

	case errors.Is(err, domain.ErrFloorBreach):
		e.release(ctx, rec)
		e.raiseEmergency(ctx, "hard_floor_breach", err)
		return false

	case domain.IsRetriable(err):
		if perr := e.queue.Push(ctx, domain.LaneExecutions, rec); perr != nil {
			e.logger.Error("requeue after settle failure failed", "execution_id", rec.ID, "error", perr)
		}
		e.storageFailure(ctx, "settle", err)
		return false

	default:
		e.release(ctx, rec)
		e.Log("execution dropped", "execution_id", rec.ID, "ticker", rec.Ticker, "error", err)
		return true
	}
}

func (e *Executor) release(ctx context.Context, rec domain.ExecutionRecord) {
	if err := e.treasury.Release(ctx, rec.StakeCents); err != nil {
		e.logger.Error("release reservation failed", "execution_id", rec.ID, "stake", rec.StakeCents, "error", err)
	}
}

func (e *Executor) storageFailure(ctx context.Context, op string, err error) {
	e.failures++
	e.logger.Error(op+" failed", "error", err, "consecutive", e.failures)
	if e.failures >= e.cfg.MaxFailures {
		e.raiseEmergency(ctx, "storage_failure", err)
	}
}

func (e *Executor) raiseEmergency(ctx context.Context, reason string, err error) {
	if e.escalated {
		return
	}
	e.escalated = true
	e.logger.Error("raising emergency", "reason", reason, "error", err)
	e.bus.Publish(ctx, event.TopicEmergency, e.name, map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
}
