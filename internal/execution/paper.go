package execution

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/service"

	"github.com/shopspring/decimal"
)

var errUntradeablePrice = errors.New("price must be strictly between 0 and 1")

// PaperExecution resolves execution records against a simulated market and
// settles them through the treasury. No real orders are placed.
type PaperExecution struct {
	treasury *service.Treasury

	mu  sync.Mutex
	rng *rand.Rand

	cancelled atomic.Bool
}

// NewPaperExecution creates a paper executor. seed 0 draws a random seed.
func NewPaperExecution(treasury *service.Treasury, seed uint64) *PaperExecution {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &PaperExecution{
		treasury: treasury,
		rng:      rand.New(rand.NewPCG(seed, ^seed)),
	}
}

// Payout returns the pnl in cents of a yes-side position of stake bought at
// price: stake*(1-p)/p on a win, -stake on a loss.
func Payout(stake domain.Cents, price float64, won bool) domain.Cents {
	if !won {
		return -stake
	}
	p := decimal.NewFromFloat(price)
	gain := stake.Decimal().Mul(decimal.NewFromInt(1).Sub(p)).Div(p)
	return domain.CentsFromDecimal(gain.RoundDown(2))
}

// Execute resolves rec with an outcome drawn from Bernoulli(rec.Probability)
// and settles the reserved stake.
func (e *PaperExecution) Execute(ctx context.Context, rec domain.ExecutionRecord) (domain.Settlement, error) {
	if e.cancelled.Load() {
		return domain.Settlement{}, domain.ErrShuttingDown
	}
	if rec.Price <= 0 || rec.Price >= 1 {
		return domain.Settlement{}, &domain.ValidationError{Field: "price", Value: rec.Price, Err: errUntradeablePrice}
	}
	if err := domain.ValidateProbability("probability", rec.Probability); err != nil {
		return domain.Settlement{}, err
	}

	e.mu.Lock()
	won := e.rng.Float64() < rec.Probability
	e.mu.Unlock()

	pnl := Payout(rec.StakeCents, rec.Price, won)
	state, err := e.treasury.Settle(ctx, rec.StakeCents, pnl)
	if err != nil {
		return domain.Settlement{}, err
	}

	return domain.Settlement{
		ExecutionID: rec.ID,
		Ticker:      rec.Ticker,
		Won:         won,
		StakeCents:  rec.StakeCents,
		PnLCents:    pnl,
		Balance:     state.Balance,
		SettledAt:   time.Now().UTC(),
	}, nil
}

// CancelAll refuses every further execution.
func (e *PaperExecution) CancelAll(ctx context.Context) error {
	e.cancelled.Store(true)
	return nil
}
