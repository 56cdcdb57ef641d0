// Package app wires configuration, storage, the bus and the agents into a
// running system.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"predict_go/internal/agent"
	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/execution"
	"predict_go/internal/infra"
	"predict_go/internal/infra/archive"
	"predict_go/internal/infra/feed"
	"predict_go/internal/infra/oracle"
	"predict_go/internal/infra/storage"
	"predict_go/internal/risk"
	"predict_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Logger   *slog.Logger
	Metrics  *infra.Metrics
	Storage  *storage.Storage
	Queue    *storage.Synapse
	Ledger   *storage.Ledger
	Treasury *service.Treasury
	Bus      *event.Bus
	Kill     *domain.KillState
	Runtime  *agent.Runtime

	Senses   *agent.Senses
	Brain    *agent.Brain
	Executor *agent.Executor
	Ragnarok *agent.Ragnarok

	paper      *execution.PaperExecution
	processLog io.WriteCloser
	archive    *archive.Scheduler
	session    *service.DayRoller
}

// NewBootstrap creates a Bootstrap for cfg. A nil cfg is loaded in Initialize.
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg, Metrics: infra.GlobalMetrics}
}

// LoadConfig reads the configuration file at path.
func (b *Bootstrap) LoadConfig(path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	b.Config = cfg
	return nil
}

// Initialize builds every component. parent bounds the run: cancelling it
// shuts the agents down the same way a kill does, minus the broadcast.
func (b *Bootstrap) Initialize(parent context.Context) error {
	if b.Config == nil {
		return fmt.Errorf("bootstrap: %w", domain.ErrConfigNotFound)
	}
	cfg := b.Config

	// 1. Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Logger.Info("🚀 Bootstrapping predict_go...", "version", cfg.App.Version)

	// 2. Storage (Synapse + ledger + settings)
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	b.Queue = storage.NewSynapse(store, b.Metrics)
	b.Ledger = storage.NewLedger(store)
	b.Logger.Info("✅ Database initialized", "path", store.Path())

	// 3. Treasury
	b.Treasury = service.NewTreasury(cfg.VaultState(), store)
	if err := b.Treasury.Restore(parent); err != nil {
		b.closeStorage()
		return fmt.Errorf("restore vault: %w", err)
	}
	// A session left over from an earlier day rolls before any decision.
	b.session = service.NewDayRoller(b.Treasury, service.DefaultRollInterval, b.Logger)
	b.session.Check(parent)
	vault := b.Treasury.Snapshot()
	b.Logger.Info("✅ Vault restored", "balance", vault.Balance, "principal", vault.Principal,
		"reserved", vault.Reserved, "floor", vault.HardFloor, "session", b.Treasury.Session())

	// 4. Process log
	b.processLog, err = infra.NewRotatingWriter(cfg.Historian.LogPath, cfg.Historian.MaxSizeMB)
	if err != nil {
		b.closeStorage()
		return fmt.Errorf("open process log: %w", err)
	}

	// 5. Bus and lifecycle
	b.Bus = event.NewBus(
		event.WithBudget(cfg.HandlerBudget()),
		event.WithInboxSize(cfg.Bus.InboxSize),
		event.WithMetrics(b.Metrics),
		event.WithLogger(b.Logger),
	)
	b.Kill = &domain.KillState{}
	b.Runtime = agent.NewRuntime(parent, b.Bus, b.Kill, cfg.GracePeriod(), b.Logger)

	// 6. Agents
	b.buildAgents()

	// 7. Ledger archive (optional)
	if cfg.Archive.Bucket != "" {
		dest, err := archive.NewS3Destination(parent, cfg.Archive.Bucket, cfg.Archive.Key, cfg.Archive.Region, cfg.Archive.Endpoint)
		if err != nil {
			b.Logger.Warn("ledger archive disabled", "bucket", cfg.Archive.Bucket, "error", err)
		} else {
			b.archive = archive.NewScheduler(b.Ledger, []archive.Destination{dest},
				time.Duration(cfg.Archive.IntervalSec)*time.Second, cfg.Archive.BatchSize, b.Logger)
		}
	}

	return nil
}

func (b *Bootstrap) buildAgents() {
	cfg := b.Config

	var simOpts []engine.Option
	if cfg.Engine.Seed != 0 {
		simOpts = append(simOpts, engine.WithSeed(cfg.Engine.Seed))
	}
	sim := engine.NewSimulator(cfg.Engine.Iterations, simOpts...)
	b.paper = execution.NewPaperExecution(b.Treasury, cfg.Executor.Seed)

	b.Senses = agent.NewSenses(b.Bus, b.Queue, agent.SensesConfig{
		RatePerSec:    cfg.Senses.RatePerSec,
		Burst:         cfg.Senses.Burst,
		HighWatermark: cfg.Senses.HighWatermark,
	}, b.Logger)
	if cfg.Senses.FeedURL != "" {
		b.Senses.AttachFeed(feed.NewWorker(cfg.Senses.FeedURL, b.Senses.Ingest, b.Metrics))
	}

	b.Brain = agent.NewBrain(b.Bus, b.Queue, sim, b.Treasury, b.Kill,
		oracle.New(cfg.Oracle.URL, time.Duration(cfg.Oracle.TimeoutMS)*time.Millisecond),
		b.Metrics, agent.BrainConfig{
			PollInterval: time.Duration(cfg.Brain.PollIntervalMS) * time.Millisecond,
			Limits: risk.Limits{
				ConfidenceThreshold: cfg.Vault.ConfidenceThreshold,
				MaxVariance:         cfg.Vault.MaxVariance,
				MaxStake:            domain.CentsFromDecimal(cfg.Vault.MaxStake),
			},
			KellyFraction: cfg.Vault.KellyFraction,
			MinEV:         cfg.Vault.MinEV,
		}, b.Logger)

	b.Executor = agent.NewExecutor(b.Bus, b.Queue, b.paper, b.Treasury, b.Metrics, agent.ExecutorConfig{
		PollInterval: time.Duration(cfg.Executor.PollIntervalMS) * time.Millisecond,
		MaxFailures:  cfg.Executor.MaxFailures,
	}, b.Logger)

	b.Ragnarok = agent.NewRagnarok(b.Bus, b.Kill, b.paper, b.Runtime.Terminate, agent.RagnarokConfig{
		Enabled:     cfg.KillSwitch.Enabled,
		GracePeriod: cfg.GracePeriod(),
	}, b.Logger)

	// Historian first so it sees every event before the other handlers react.
	b.Runtime.Add(
		agent.NewHistorian(b.Bus, b.Ledger, b.processLog, b.Logger),
		b.Ragnarok,
		b.Senses,
		b.Brain,
		b.Executor,
	)
}

// Start launches the agents, the day roller and the archive scheduler.
func (b *Bootstrap) Start() error {
	if err := b.Runtime.Start(); err != nil {
		return err
	}
	b.session.Start(b.Runtime.Context())
	if b.archive != nil {
		b.archive.Start(b.Runtime.Context())
		b.Logger.Info("✅ Ledger archive scheduled", "bucket", b.Config.Archive.Bucket)
	}
	if !b.Config.KillSwitch.Enabled {
		b.Logger.Warn("⚠️ Kill switch disabled: emergencies will be logged and ignored")
	}
	b.Logger.Info("✨ System fully operational", "agents", b.Runtime.Agents())
	return nil
}

// RaiseKill raises an operator emergency.
func (b *Bootstrap) RaiseKill(ctx context.Context, reason string) {
	b.Bus.Publish(ctx, event.TopicEmergency, "operator", map[string]any{"reason": reason})
}

// Wait blocks until the runtime terminates and releases every resource.
// It returns an error if the run ended through the kill switch.
func (b *Bootstrap) Wait() error {
	b.Runtime.Wait()

	b.session.Stop()
	if b.archive != nil {
		b.archive.Stop()
	}
	var errs []error
	if err := b.processLog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close process log: %w", err))
	}
	if err := b.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	if b.Runtime.Killed() {
		errs = append(errs, ErrKilled)
	}
	b.Logger.Info("👋 Shutdown complete", "killed", b.Runtime.Killed())
	return errors.Join(errs...)
}

func (b *Bootstrap) closeStorage() error {
	if b.Storage == nil {
		return nil
	}
	if err := b.Storage.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

// ErrKilled reports a run that ended through the kill switch.
var ErrKilled = errors.New("terminated by kill switch")
