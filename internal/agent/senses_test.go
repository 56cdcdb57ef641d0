package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"predict_go/internal/domain"
	"predict_go/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	connected    atomic.Bool
	disconnects  atomic.Int32
	connectError error
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	if f.connectError != nil {
		return f.connectError
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeFeed) Disconnect() {
	f.connected.Store(false)
	f.disconnects.Add(1)
}

func (f *fakeFeed) IsConnected() bool { return f.connected.Load() }

func TestSenses_OfferQueuesAndAnnounces(t *testing.T) {
	bus := newTestBus(t)
	q := newMemQueue()
	seen := record(t, bus, event.TopicOpportunity)

	s := NewSenses(bus, q, SensesConfig{}, testLogger())
	require.NoError(t, s.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, s.Offer(ctx, domain.Opportunity{Ticker: "FED-CUT", Price: 0.4, Probability: 0.7}))

	size, err := q.Size(ctx, domain.LaneOpportunities)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	var got domain.Opportunity
	ok, err := q.Pop(ctx, domain.LaneOpportunities, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "FED-CUT", got.Ticker)
	assert.False(t, got.DiscoveredAt.IsZero(), "discovery time should be stamped")

	events := seen.all()
	require.Len(t, events, 1)
	assert.Equal(t, "senses", events[0].Sender)
	assert.Equal(t, "FED-CUT", events[0].String("ticker"))
}

func TestSenses_OfferRejectsInvalid(t *testing.T) {
	bus := newTestBus(t)
	q := newMemQueue()
	s := NewSenses(bus, q, SensesConfig{}, testLogger())

	tests := []struct {
		name string
		opp  domain.Opportunity
		want error
	}{
		{"empty ticker", domain.Opportunity{Price: 0.5, Probability: 0.5}, domain.ErrEmptyTicker},
		{"price above one", domain.Opportunity{Ticker: "X", Price: 1.2, Probability: 0.5}, domain.ErrProbabilityOutOfRange},
		{"negative probability", domain.Opportunity{Ticker: "X", Price: 0.5, Probability: -0.1}, domain.ErrProbabilityOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Offer(context.Background(), tt.opp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ve *domain.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}

	size, _ := q.Size(context.Background(), domain.LaneOpportunities)
	assert.Zero(t, size)
}

func TestSenses_RateLimit(t *testing.T) {
	bus := newTestBus(t)
	s := NewSenses(bus, newMemQueue(), SensesConfig{RatePerSec: 0.001, Burst: 1}, testLogger())

	o := domain.Opportunity{Ticker: "X", Price: 0.5, Probability: 0.6}
	require.NoError(t, s.Offer(context.Background(), o))
	assert.ErrorIs(t, s.Offer(context.Background(), o), ErrThrottled)
}

func TestSenses_HighWatermark(t *testing.T) {
	bus := newTestBus(t)
	q := newMemQueue()
	s := NewSenses(bus, q, SensesConfig{HighWatermark: 2}, testLogger())

	o := domain.Opportunity{Ticker: "X", Price: 0.5, Probability: 0.6}
	require.NoError(t, s.Offer(context.Background(), o))
	require.NoError(t, s.Offer(context.Background(), o))
	assert.ErrorIs(t, s.Offer(context.Background(), o), ErrThrottled)

	var drained domain.Opportunity
	_, err := q.Pop(context.Background(), domain.LaneOpportunities, &drained)
	require.NoError(t, err)
	assert.NoError(t, s.Offer(context.Background(), o))
}

func TestSenses_QueueFailureSurfaces(t *testing.T) {
	bus := newTestBus(t)
	q := newMemQueue()
	q.fail(domain.NewDurabilityError("push", errors.New("disk full")))
	s := NewSenses(bus, q, SensesConfig{}, testLogger())

	err := s.Offer(context.Background(), domain.Opportunity{Ticker: "X", Price: 0.5, Probability: 0.6})
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))
}

func TestSenses_StopsOnKill(t *testing.T) {
	bus := newTestBus(t)
	feed := &fakeFeed{}
	s := NewSenses(bus, newMemQueue(), SensesConfig{}, testLogger())
	s.AttachFeed(feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.True(t, feed.IsConnected())

	bus.Publish(ctx, event.TopicKill, "ragnarok", map[string]any{"reason": "test"})

	assert.True(t, s.Halted())
	assert.False(t, feed.IsConnected())
	err := s.Offer(ctx, domain.Opportunity{Ticker: "X", Price: 0.5, Probability: 0.6})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)

	cancel()
	s.Wait()
	assert.GreaterOrEqual(t, feed.disconnects.Load(), int32(1))
}

func TestSenses_FeedConnectFailure(t *testing.T) {
	bus := newTestBus(t)
	s := NewSenses(bus, newMemQueue(), SensesConfig{}, testLogger())
	s.AttachFeed(&fakeFeed{connectError: errors.New("refused")})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect feed")
}
