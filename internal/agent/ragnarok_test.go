package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/infra"
	"predict_go/internal/risk"
	"predict_go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steps struct {
	mu  sync.Mutex
	seq []string
}

func (s *steps) add(step string) {
	s.mu.Lock()
	s.seq = append(s.seq, step)
	s.mu.Unlock()
}

func (s *steps) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seq...)
}

type recordingCanceller struct {
	steps *steps
	calls atomic.Int32
}

func (c *recordingCanceller) CancelAll(ctx context.Context) error {
	c.calls.Add(1)
	c.steps.add("cancel")
	return nil
}

func waitDone(t *testing.T, r *Ragnarok) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("kill switch stuck in %s", r.Phase())
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "ARMED", PhaseArmed.String())
	assert.Equal(t, "TRIGGERED", PhaseTriggered.String())
	assert.Equal(t, "BROADCASTING", PhaseBroadcasting.String())
	assert.Equal(t, "TERMINATED", PhaseTerminated.String())
	assert.Equal(t, "UNKNOWN", Phase(9).String())
}

func TestRagnarok_ShutdownSequence(t *testing.T) {
	bus := newTestBus(t)
	kill := &domain.KillState{}
	seq := &steps{}
	canceller := &recordingCanceller{steps: seq}
	banner := &syncBuffer{}

	var stateAtKill atomic.Int32
	require.NoError(t, bus.Subscribe(event.TopicKill, "observer", func(_ context.Context, ev event.Event) error {
		stateAtKill.Store(int32(kill.Load()))
		seq.add("kill:" + ev.String("reason") + ":" + ev.String("origin"))
		return nil
	}))

	r := NewRagnarok(bus, kill, canceller, func() { seq.add("terminate") },
		RagnarokConfig{Enabled: true, GracePeriod: 20 * time.Millisecond}, testLogger())
	r.SetBannerWriter(banner)
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, PhaseArmed, r.Phase())

	start := time.Now()
	bus.Publish(context.Background(), event.TopicEmergency, "executor", map[string]any{"reason": "hard_floor_breach"})
	waitDone(t, r)

	assert.Equal(t, PhaseTerminated, r.Phase())
	assert.True(t, r.Triggered())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "grace period must elapse")
	assert.Equal(t, []string{"kill:hard_floor_breach:executor", "cancel", "terminate"}, seq.list())
	assert.Equal(t, int32(domain.StateShuttingDown), stateAtKill.Load(), "decisions stop before the broadcast")
	assert.Contains(t, banner.String(), "RAGNAROK")
	assert.Contains(t, banner.String(), "hard_floor_breach")
}

func TestRagnarok_FiresOnce(t *testing.T) {
	bus := newTestBus(t)
	canceller := &recordingCanceller{steps: &steps{}}
	var terminations atomic.Int32

	r := NewRagnarok(bus, &domain.KillState{}, canceller, func() { terminations.Add(1) },
		RagnarokConfig{Enabled: true, GracePeriod: time.Millisecond}, testLogger())
	r.SetBannerWriter(&syncBuffer{})
	require.NoError(t, r.Start(context.Background()))

	bus.Publish(context.Background(), event.TopicEmergency, "executor", map[string]any{"reason": "first"})
	waitDone(t, r)
	bus.Publish(context.Background(), event.TopicEmergency, "operator", map[string]any{"reason": "second"})

	assert.Equal(t, PhaseTerminated, r.Phase())
	assert.Equal(t, int32(1), canceller.calls.Load())
	assert.Equal(t, int32(1), terminations.Load())
}

func TestRagnarok_DisabledIgnoresEmergency(t *testing.T) {
	bus := newTestBus(t)
	kill := &domain.KillState{}
	kills := record(t, bus, event.TopicKill)
	canceller := &recordingCanceller{steps: &steps{}}

	r := NewRagnarok(bus, kill, canceller, func() { t.Error("terminate called while disabled") },
		RagnarokConfig{Enabled: false, GracePeriod: time.Millisecond}, testLogger())
	require.NoError(t, r.Start(context.Background()))

	bus.Publish(context.Background(), event.TopicEmergency, "executor", map[string]any{"reason": "storage_failure"})

	assert.Equal(t, PhaseArmed, r.Phase())
	assert.True(t, kill.Running())
	assert.Zero(t, kills.len())
	assert.Zero(t, canceller.calls.Load())
}

func TestRagnarok_NoAcceptAfterKill(t *testing.T) {
	bus := newTestBus(t)
	kill := &domain.KillState{}
	q := newMemQueue()
	vault := domain.VaultState{
		Principal:  10_000_000,
		DailyGoal:  10_000_000,
		ProfitLock: 10_000_000,
		Balance:    10_000_000,
	}
	tr := service.NewTreasury(vault, nil)
	brain := NewBrain(bus, q, engine.NewSimulator(500, engine.WithSeed(3)), tr, kill, nil, &infra.Metrics{},
		BrainConfig{
			Limits:        risk.Limits{ConfidenceThreshold: 0.6, MaxVariance: 0.25, MaxStake: 100},
			KellyFraction: 0.25,
		}, testLogger())

	verdicts := record(t, bus, event.TopicVerdict)
	kills := record(t, bus, event.TopicKill)

	r := NewRagnarok(bus, kill, nil, nil, RagnarokConfig{Enabled: true, GracePeriod: time.Millisecond}, testLogger())
	r.SetBannerWriter(&syncBuffer{})
	require.NoError(t, r.Start(context.Background()))

	ctx := context.Background()
	opp := domain.Opportunity{Ticker: "RAIN", Price: 0.4, Probability: 0.7}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := brain.Evaluate(ctx, opp); err != nil {
					t.Errorf("evaluate: %v", err)
					return
				}
			}
		}()
	}

	require.Eventually(t, func() bool { return verdicts.len() >= 20 }, 5*time.Second, time.Millisecond)
	bus.Publish(ctx, event.TopicEmergency, "test", map[string]any{"reason": "drill"})
	waitDone(t, r)
	wg.Wait()

	late, err := brain.Evaluate(ctx, opp)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictReject, late.Verdict)
	assert.Equal(t, ReasonShuttingDown, late.Reason)

	require.Equal(t, 1, kills.len())
	killedAt := kills.all()[0].Timestamp

	var accepted, afterKill int
	for _, ev := range verdicts.all() {
		var s domain.Signal
		require.NoError(t, ev.Decode(&s))
		if s.Verdict != domain.VerdictAccept {
			continue
		}
		accepted++
		if s.Timestamp.After(killedAt) {
			afterKill++
		}
	}
	assert.Positive(t, accepted)
	assert.Zero(t, afterKill, "no trade may be accepted after the kill broadcast")

	pending, err := q.Size(ctx, domain.LaneExecutions)
	require.NoError(t, err)
	assert.Equal(t, int64(accepted), pending)
}
