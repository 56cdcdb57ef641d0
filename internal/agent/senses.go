package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when flow control refuses an opportunity.
var ErrThrottled = errors.New("opportunity intake throttled")

// SensesConfig controls intake flow.
type SensesConfig struct {
	RatePerSec    float64
	Burst         int
	HighWatermark int64 // opportunities lane size at which intake pauses; 0 disables
}

// Senses gathers opportunities, from a feed or injected directly, and hands
// them to the brain through the durable queue.
type Senses struct {
	*Base
	queue   domain.Queue
	limiter *rate.Limiter
	cfg     SensesConfig
	feed    domain.FeedWorker
}

// NewSenses creates the intake agent.
func NewSenses(bus *event.Bus, queue domain.Queue, cfg SensesConfig, logger *slog.Logger) *Senses {
	limit := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &Senses{
		Base:    NewBase("senses", bus, logger),
		queue:   queue,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
	}
	s.onKill = s.stopFeed
	return s
}

// AttachFeed sets the streaming source connected on Start.
func (s *Senses) AttachFeed(f domain.FeedWorker) { s.feed = f }

// Start subscribes to the kill broadcast and connects the feed, if any.
func (s *Senses) Start(ctx context.Context) error {
	if err := s.watchKill(); err != nil {
		return err
	}
	if s.feed != nil {
		if err := s.feed.Connect(ctx); err != nil {
			return fmt.Errorf("connect feed: %w", err)
		}
		s.Go(func() {
			<-ctx.Done()
			s.stopFeed()
		})
	}
	s.Log("senses started", "feed", s.feed != nil)
	return nil
}

func (s *Senses) stopFeed() {
	if s.feed != nil {
		s.feed.Disconnect()
	}
}

// Ingest is the feed sink: Offer with failures logged.
func (s *Senses) Ingest(o domain.Opportunity) {
	if err := s.Offer(context.Background(), o); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrThrottled) || errors.Is(err, domain.ErrShuttingDown) {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "opportunity not queued", "ticker", o.Ticker, "error", err)
	}
}

// Offer validates o, applies flow control, persists it to the opportunities
// lane and announces it.
func (s *Senses) Offer(ctx context.Context, o domain.Opportunity) error {
	if s.Halted() {
		return domain.ErrShuttingDown
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if !s.limiter.Allow() {
		return fmt.Errorf("%w: rate limit", ErrThrottled)
	}
	if s.cfg.HighWatermark > 0 {
		size, err := s.queue.Size(ctx, domain.LaneOpportunities)
		if err != nil {
			return err
		}
		if size >= s.cfg.HighWatermark {
			return fmt.Errorf("%w: %d pending", ErrThrottled, size)
		}
	}
	if o.DiscoveredAt.IsZero() {
		o.DiscoveredAt = time.Now().UTC()
	}

	if err := s.queue.Push(ctx, domain.LaneOpportunities, o); err != nil {
		return err
	}

	payload, err := event.Payload(o)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, event.TopicOpportunity, s.name, payload)
	return nil
}
