package domain

import (
	"math"
	"time"
)

// Opportunity is a candidate binary-outcome bet awaiting evaluation.
// Price is the market-implied probability of YES; Probability is the
// external estimate of the same event.
type Opportunity struct {
	Ticker       string    `json:"ticker"`
	Price        float64   `json:"price"`
	Probability  float64   `json:"probability"`
	Context      []string  `json:"context,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Validate checks the opportunity inputs. Out-of-range values are reported,
// never clamped.
func (o *Opportunity) Validate() error {
	if o.Ticker == "" {
		return &ValidationError{Field: "ticker", Value: o.Ticker, Err: ErrEmptyTicker}
	}
	if err := ValidateProbability("price", o.Price); err != nil {
		return err
	}
	return ValidateProbability("probability", o.Probability)
}

// Edge returns the external estimate minus the market price.
func (o *Opportunity) Edge() float64 {
	return o.Probability - o.Price
}

// ValidateProbability returns a ValidationError if v is NaN or outside [0,1].
func ValidateProbability(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ValidationError{Field: field, Value: v, Err: ErrProbabilityOutOfRange}
	}
	return nil
}

// ExecutionRecord is an approved trade waiting on the executions lane.
type ExecutionRecord struct {
	ID          string    `json:"id"`
	SignalID    string    `json:"signal_id"`
	Ticker      string    `json:"ticker"`
	Price       float64   `json:"price"`
	Probability float64   `json:"probability"`
	StakeCents  Cents     `json:"stake_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settlement is the outcome of resolving an execution record.
type Settlement struct {
	ExecutionID string    `json:"execution_id"`
	Ticker      string    `json:"ticker"`
	Won         bool      `json:"won"`
	StakeCents  Cents     `json:"stake_cents"`
	PnLCents    Cents     `json:"pnl_cents"`
	Balance     Cents     `json:"balance_cents"`
	SettledAt   time.Time `json:"settled_at"`
}
