package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Destination is a sync target for the exported ledger.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the ledger to its destinations on a fixed interval.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	batch        int
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		batch:        batch,
		logger:       logger.With("component", "archive"),
	}
}

// Start runs an export immediately and then on each tick until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final export so the archive reflects everything up to shutdown.
			s.SyncOnce(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the ledger and writes it to every destination.
func (s *Scheduler) SyncOnce(ctx context.Context) {
	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.src, &buf, s.batch)
	if err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}
	data := buf.Bytes()

	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("archive destination write failed", "destination", i, "err", err)
		}
	}

	s.logger.Info("archive completed", "signals", n, "destinations", len(s.destinations), "bytes", len(data))
}
