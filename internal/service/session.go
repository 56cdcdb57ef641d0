package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRollInterval is how often the day roller checks the calendar.
const DefaultRollInterval = time.Minute

// DayRoller rolls the treasury session over at each UTC midnight.
type DayRoller struct {
	treasury *Treasury
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDayRoller creates a roller that checks every interval.
func NewDayRoller(treasury *Treasury, interval time.Duration, logger *slog.Logger) *DayRoller {
	if interval <= 0 {
		interval = DefaultRollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DayRoller{
		treasury: treasury,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("component", "session"),
	}
}

// Start checks immediately and then on each tick until Stop or ctx ends.
func (r *DayRoller) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop cancels the roller and waits for it to exit.
func (r *DayRoller) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *DayRoller) run(ctx context.Context) {
	r.Check(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Check rolls the session if the date has changed. Failures are retried on
// the next tick.
func (r *DayRoller) Check(ctx context.Context) {
	rolled, err := r.treasury.RollDay(ctx, r.now())
	if err != nil {
		r.logger.Error("day roll failed", "error", err)
		return
	}
	if rolled {
		v := r.treasury.Snapshot()
		r.logger.Info("new session", "date", r.treasury.Session(), "principal", v.Principal)
	}
}
