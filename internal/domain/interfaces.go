package domain

import (
	"context"
)

// FeedWorker defines the interface for streaming opportunity sources
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// Queue is the durable work queue shared by agents.
type Queue interface {
	Push(ctx context.Context, lane Lane, item any) error
	Pop(ctx context.Context, lane Lane, out any) (bool, error)
	Size(ctx context.Context, lane Lane) (int64, error)
}

// SignalLedger is the append-only audit trail of evaluated opportunities.
type SignalLedger interface {
	Append(ctx context.Context, s Signal) error
	Latest(ctx context.Context, n int) ([]Signal, error)
}

// SettingsStore persists small key/value runtime state. SaveConfigs writes
// all pairs or none.
type SettingsStore interface {
	SaveConfigs(ctx context.Context, kv map[string]string) error
	LoadConfig(ctx context.Context, key string) (string, bool, error)
}

// OrderCanceller is the order-cancellation boundary invoked on emergency shutdown.
type OrderCanceller interface {
	CancelAll(ctx context.Context) error
}

// Oracle produces opaque qualitative commentary for an opportunity.
type Oracle interface {
	Commentary(ctx context.Context, o Opportunity, ev float64) (string, error)
}
