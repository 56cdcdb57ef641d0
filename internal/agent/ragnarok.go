package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
)

// Phase is the kill switch state. It only moves forward.
type Phase int32

const (
	PhaseArmed Phase = iota
	PhaseTriggered
	PhaseBroadcasting
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "ARMED"
	case PhaseTriggered:
		return "TRIGGERED"
	case PhaseBroadcasting:
		return "BROADCASTING"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// RagnarokConfig controls the kill switch.
type RagnarokConfig struct {
	Enabled     bool
	GracePeriod time.Duration
}

// Ragnarok is the irreversible emergency shutdown. On system.emergency it
// stops new decisions, broadcasts system.kill, cancels open orders, waits the
// grace period and terminates the run.
type Ragnarok struct {
	*Base
	cfg       RagnarokConfig
	kill      *domain.KillState
	canceller domain.OrderCanceller
	terminate func()
	banner    io.Writer

	phase atomic.Int32
	done  chan struct{}
}

// NewRagnarok creates the kill switch. terminate cancels the root context.
func NewRagnarok(bus *event.Bus, kill *domain.KillState, canceller domain.OrderCanceller,
	terminate func(), cfg RagnarokConfig, logger *slog.Logger) *Ragnarok {
	return &Ragnarok{
		Base:      NewBase("ragnarok", bus, logger),
		cfg:       cfg,
		kill:      kill,
		canceller: canceller,
		terminate: terminate,
		banner:    os.Stderr,
		done:      make(chan struct{}),
	}
}

// SetBannerWriter redirects the shutdown banner.
func (r *Ragnarok) SetBannerWriter(w io.Writer) { r.banner = w }

// Phase returns the current state.
func (r *Ragnarok) Phase() Phase { return Phase(r.phase.Load()) }

// Triggered reports whether the kill switch has fired.
func (r *Ragnarok) Triggered() bool { return r.Phase() != PhaseArmed }

// Done is closed once the protocol reaches TERMINATED.
func (r *Ragnarok) Done() <-chan struct{} { return r.done }

// Start subscribes to the emergency topic.
func (r *Ragnarok) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(event.TopicEmergency, r.name, r.onEmergency); err != nil {
		return err
	}
	r.Log("kill switch ready", "enabled", r.cfg.Enabled, "grace", r.cfg.GracePeriod)
	return nil
}

func (r *Ragnarok) onEmergency(ctx context.Context, ev event.Event) error {
	reason := ev.String("reason")
	if reason == "" {
		reason = "unspecified"
	}
	if !r.cfg.Enabled {
		r.logger.Warn("emergency ignored, kill switch disabled", "reason", reason, "origin", ev.Sender)
		return nil
	}
	if !r.phase.CompareAndSwap(int32(PhaseArmed), int32(PhaseTriggered)) {
		r.logger.Info("emergency ignored, kill switch already fired", "phase", r.Phase(), "origin", ev.Sender)
		return nil
	}
	r.fire(ctx, reason, ev.Sender)
	return nil
}

func (r *Ragnarok) fire(ctx context.Context, reason, origin string) {
	r.printBanner(reason, origin)
	r.logger.Error("RAGNAROK_TRIGGERED", "reason", reason, "origin", origin, "grace", r.cfg.GracePeriod)

	// Advance before the kill event goes out. Advance takes the write side of
	// the lock the brain holds while it decides and publishes a verdict, so it
	// returns only after any running decision has finished, and no decision
	// can start after it. No ACCEPT can therefore follow system.kill on the bus.
	r.kill.Advance(domain.StateShuttingDown)

	r.phase.Store(int32(PhaseBroadcasting))
	r.bus.Publish(ctx, event.TopicKill, r.name, map[string]any{
		"reason": reason,
		"origin": origin,
	})

	if r.canceller != nil {
		if err := r.canceller.CancelAll(ctx); err != nil {
			r.logger.Error("order cancellation failed", "error", err)
		}
	}

	timer := time.NewTimer(r.cfg.GracePeriod)
	<-timer.C

	r.phase.Store(int32(PhaseTerminated))
	close(r.done)
	r.logger.Error("RAGNAROK_TERMINATING")
	if r.terminate != nil {
		r.terminate()
	}
}

func (r *Ragnarok) printBanner(reason, origin string) {
	bar := strings.Repeat("!", 72)
	fmt.Fprintf(r.banner, "\n%s\n!!  RAGNAROK: EMERGENCY KILL SWITCH TRIGGERED\n!!  reason: %s\n!!  origin: %s\n!!  all agents are shutting down; restart required to re-arm\n%s\n\n",
		bar, reason, origin, bar)
}
