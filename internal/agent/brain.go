package agent

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/risk"
	"predict_go/internal/service"
)

// Verdict reasons issued by the brain besides the risk policy's own.
const (
	ReasonShuttingDown     = "shutting_down"
	ReasonNoEdge           = "no_edge"
	ReasonUntradeablePrice = "untradeable_price"
	ReasonStakeTooSmall    = "stake_too_small"
	ReasonReservation      = "reservation_failed"
	ReasonQueueUnavailable = "queue_unavailable"
	ReasonCapped           = "capped" // accepted at a reduced stake
)

// BrainConfig holds the decision parameters.
type BrainConfig struct {
	PollInterval  time.Duration
	Limits        risk.Limits
	KellyFraction float64 // multiplier on the full Kelly stake
	MinEV         float64 // EV at or below this is rejected
}

// VerdictPayload is published on brain.verdict.
type VerdictPayload struct {
	domain.Signal
	Price       float64      `json:"price"`
	Probability float64      `json:"probability"`
	Edge        float64      `json:"edge"`
	Variance    float64      `json:"variance"`
	StdErr      float64      `json:"std_err"`
	StakeCents  domain.Cents `json:"stake_cents,omitempty"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Commentary  string       `json:"commentary,omitempty"`
}

// Brain pops opportunities, values them and issues verdicts. Approved trades
// are reserved in the treasury and pushed to the executions lane.
type Brain struct {
	*Base
	queue    domain.Queue
	sim      *engine.Simulator
	treasury *service.Treasury
	kill     *domain.KillState
	oracle   domain.Oracle
	metrics  *infra.Metrics
	cfg      BrainConfig

	wake chan struct{}
}

// NewBrain creates the valuation agent. oracle may be nil.
func NewBrain(bus *event.Bus, queue domain.Queue, sim *engine.Simulator, treasury *service.Treasury,
	kill *domain.KillState, oracle domain.Oracle, metrics *infra.Metrics, cfg BrainConfig, logger *slog.Logger) *Brain {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Brain{
		Base:     NewBase("brain", bus, logger),
		queue:    queue,
		sim:      sim,
		treasury: treasury,
		kill:     kill,
		oracle:   oracle,
		metrics:  metrics,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

// Start subscribes to new opportunities and the kill broadcast, then runs the
// decision loop until ctx ends or the kill is observed.
func (b *Brain) Start(ctx context.Context) error {
	if err := b.watchKill(); err != nil {
		return err
	}
	if err := b.bus.Subscribe(event.TopicOpportunity, b.name, func(context.Context, event.Event) error {
		select {
		case b.wake <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		return err
	}

	b.Go(func() { b.loop(ctx) })
	b.Log("brain started", "iterations", b.sim.Iterations())
	return nil
}

func (b *Brain) loop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		case <-ticker.C:
		}
		if b.Halted() {
			b.logger.Info("brain loop stopped after kill")
			return
		}
		b.drain(ctx)
	}
}

// drain evaluates queued opportunities until the lane is empty.
func (b *Brain) drain(ctx context.Context) {
	for !b.Halted() && ctx.Err() == nil {
		var o domain.Opportunity
		ok, err := b.queue.Pop(ctx, domain.LaneOpportunities, &o)
		if errors.Is(err, domain.ErrUndecodable) {
			b.logger.Warn("opportunity moved to dead letters", "error", err)
			continue
		}
		if err != nil {
			b.logger.Error("pop opportunity failed", "error", err)
			return
		}
		if !ok {
			return
		}
		if _, err := b.Evaluate(ctx, o); err != nil {
			b.logger.Warn("evaluation failed", "ticker", o.Ticker, "error", err)
		}
	}
}

// Evaluate values o and publishes its verdict. Malformed input is published on
// brain.rejected and returned as a validation error.
func (b *Brain) Evaluate(ctx context.Context, o domain.Opportunity) (domain.Signal, error) {
	if err := o.Validate(); err != nil {
		b.bus.Publish(ctx, event.TopicRejected, b.name, map[string]any{
			"ticker": o.Ticker,
			"error":  err.Error(),
		})
		return domain.Signal{}, err
	}

	est, err := b.sim.Evaluate(o.Price, o.Probability)
	if err != nil {
		return domain.Signal{}, err
	}

	out := VerdictPayload{
		Signal: domain.Signal{
			ID:         infra.MustID(infra.PrefixSignal),
			Ticker:     o.Ticker,
			Confidence: est.WinRate,
			EV:         est.EV,
		},
		Price:       o.Price,
		Probability: o.Probability,
		Edge:        o.Edge(),
		Variance:    est.Variance,
		StdErr:      est.StdErr,
	}

	if b.oracle != nil && est.EV > b.cfg.MinEV {
		text, err := b.oracle.Commentary(ctx, o, est.EV)
		if err != nil {
			b.logger.Debug("oracle unavailable", "ticker", o.Ticker, "error", err)
		}
		out.Commentary = text
	}

	var decideErr error
	b.kill.Guard(func(running bool) {
		if !running {
			out.Verdict, out.Reason = domain.VerdictReject, ReasonShuttingDown
		} else {
			decideErr = b.decide(ctx, o, est, &out)
		}
		out.Timestamp = time.Now().UTC()

		payload, err := event.Payload(out)
		if err != nil {
			decideErr = errors.Join(decideErr, err)
			return
		}
		b.bus.Publish(ctx, event.TopicVerdict, b.name, payload)
	})

	b.metrics.RecordVerdict(string(out.Verdict))
	if out.Verdict != domain.VerdictAccept {
		b.logger.Info("verdict", "ticker", o.Ticker, "verdict", out.Verdict, "reason", out.Reason, "ev", est.EV)
	} else {
		b.Log("trade accepted", "ticker", o.Ticker, "stake", out.StakeCents, "ev", est.EV, "confidence", est.WinRate)
	}
	return out.Signal, decideErr
}

// decide sizes the trade, applies the vault policy and commits an approved
// stake. It must run under the kill guard.
func (b *Brain) decide(ctx context.Context, o domain.Opportunity, est engine.Estimate, out *VerdictPayload) error {
	switch {
	case o.Price <= 0 || o.Price >= 1:
		out.Verdict, out.Reason = domain.VerdictReject, ReasonUntradeablePrice
		return nil
	case est.EV <= b.cfg.MinEV:
		out.Verdict, out.Reason = domain.VerdictReject, ReasonNoEdge
		return nil
	}

	state := b.treasury.Snapshot()
	fraction := engine.KellyFraction(o.Price, o.Probability) * b.cfg.KellyFraction
	requested := domain.Cents(math.Floor(float64(state.Available()) * fraction))
	if requested <= 0 {
		out.Verdict, out.Reason = domain.VerdictHold, ReasonStakeTooSmall
		return nil
	}

	d := risk.Approve(requested, state, est.WinRate, est.Variance, b.cfg.Limits)
	if !d.Approved {
		out.Verdict, out.Reason = domain.VerdictHold, d.Reason
		return nil
	}

	if err := b.treasury.Reserve(ctx, d.Stake); err != nil {
		out.Verdict, out.Reason = domain.VerdictHold, ReasonReservation
		return nil
	}

	rec := domain.ExecutionRecord{
		ID:          infra.MustID(infra.PrefixExecution),
		SignalID:    out.ID,
		Ticker:      o.Ticker,
		Price:       o.Price,
		Probability: o.Probability,
		StakeCents:  d.Stake,
		CreatedAt:   time.Now().UTC(),
	}
	if err := b.queue.Push(ctx, domain.LaneExecutions, rec); err != nil {
		if rerr := b.treasury.Release(ctx, d.Stake); rerr != nil {
			b.logger.Error("release reservation failed", "stake", d.Stake, "error", rerr)
		}
		out.Verdict, out.Reason = domain.VerdictHold, ReasonQueueUnavailable
		return err
	}

	out.Verdict = domain.VerdictAccept
	out.StakeCents = d.Stake
	out.ExecutionID = rec.ID
	if d.Capped {
		out.Reason = ReasonCapped
	}
	if d.ProfitLocked {
		out.Reason = risk.ReasonProfitLocked
	}
	return nil
}
