package agent

import (
	"context"
	"testing"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/engine"
	"predict_go/internal/event"
	"predict_go/internal/execution"
	"predict_go/internal/infra"
	"predict_go/internal/risk"
	"predict_go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runtimeFixture struct {
	rt       *Runtime
	bus      *event.Bus
	kill     *domain.KillState
	senses   *Senses
	ragnarok *Ragnarok
	ledger   *memLedger
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	bus := newTestBus(t)
	kill := &domain.KillState{}
	q := newMemQueue()
	tr := service.NewTreasury(testVault(), nil)
	metrics := &infra.Metrics{}
	logger := testLogger()
	paper := execution.NewPaperExecution(tr, 11)

	rt := NewRuntime(context.Background(), bus, kill, time.Second, logger)
	ledger := &memLedger{}
	f := &runtimeFixture{
		rt:     rt,
		bus:    bus,
		kill:   kill,
		ledger: ledger,
		senses: NewSenses(bus, q, SensesConfig{}, logger),
		ragnarok: NewRagnarok(bus, kill, paper, rt.Terminate,
			RagnarokConfig{Enabled: true, GracePeriod: 10 * time.Millisecond}, logger),
	}
	f.ragnarok.SetBannerWriter(&syncBuffer{})

	brain := NewBrain(bus, q, engine.NewSimulator(2000, engine.WithSeed(5)), tr, kill, nil, metrics,
		BrainConfig{
			PollInterval:  10 * time.Millisecond,
			Limits:        risk.Limits{ConfidenceThreshold: 0.6, MaxVariance: 0.25, MaxStake: 5000},
			KellyFraction: 0.25,
		}, logger)
	executor := NewExecutor(bus, q, paper, tr, metrics, ExecutorConfig{PollInterval: 10 * time.Millisecond}, logger)

	rt.Add(NewHistorian(bus, ledger, &syncBuffer{}, logger), f.senses, brain, executor, f.ragnarok)
	require.NoError(t, rt.Start())
	return f
}

func waitRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not terminate")
	}
}

func TestRuntime_GracefulStop(t *testing.T) {
	f := newRuntimeFixture(t)
	assert.Equal(t, 5, f.rt.Agents())
	assert.Equal(t, domain.StateRunning, f.rt.State())

	require.NoError(t, f.senses.Offer(context.Background(), domain.Opportunity{Ticker: "RAIN", Price: 0.4, Probability: 0.7}))
	require.Eventually(t, func() bool { return len(f.ledger.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.rt.Terminate()
	waitRuntime(t, f.rt)

	assert.Equal(t, domain.StateTerminated, f.rt.State())
	assert.False(t, f.rt.Killed())
	assert.Equal(t, PhaseArmed, f.ragnarok.Phase())
}

func TestRuntime_EmergencyTerminates(t *testing.T) {
	f := newRuntimeFixture(t)

	f.bus.Publish(context.Background(), event.TopicEmergency, "operator", map[string]any{"reason": "manual"})
	waitRuntime(t, f.rt)

	assert.Equal(t, domain.StateTerminated, f.rt.State())
	assert.True(t, f.rt.Killed())
	assert.Equal(t, PhaseTerminated, f.ragnarok.Phase())
	assert.True(t, f.senses.Halted())
	assert.ErrorIs(t, f.rt.Context().Err(), context.Canceled)
}
