package engine

import (
	"math"
	"math/rand/v2"

	"predict_go/internal/domain"
)

// DefaultIterations is the trial count used when none is given.
const DefaultIterations = 10000

// Estimate is the aggregate of one Monte-Carlo run for a yes-side position
// bought at price p on an event with probability q. Values are per unit stake.
type Estimate struct {
	EV           float64 `json:"ev"`             // mean payoff across trials
	WinRate      float64 `json:"win_rate"`       // fraction of trials with positive payoff
	Variance     float64 `json:"variance"`       // sample variance of the payoff
	StdErr       float64 `json:"std_err"`        // standard error of EV
	Iterations   int     `json:"iterations"`
	ClosedFormEV float64 `json:"closed_form_ev"` // q(1-p) - (1-q)p
}

// Simulator runs independent Bernoulli trials. It is safe for concurrent use:
// every Evaluate call owns its random source.
type Simulator struct {
	iterations int
	seed       uint64
	seeded     bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed makes every Evaluate call reproducible for identical inputs.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) {
		s.seed = seed
		s.seeded = true
	}
}

// NewSimulator returns a simulator running iterations trials per evaluation.
// Non-positive iterations fall back to DefaultIterations.
func NewSimulator(iterations int, opts ...Option) *Simulator {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	s := &Simulator{iterations: iterations}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Iterations returns the configured trial count.
func (s *Simulator) Iterations() int { return s.iterations }

// Evaluate simulates the payoff of buying "yes" at price p when the event
// resolves yes with probability q. A win pays 1-p, a loss costs p.
// p or q outside [0,1] is a validation error.
func (s *Simulator) Evaluate(p, q float64) (Estimate, error) {
	if err := domain.ValidateProbability("price", p); err != nil {
		return Estimate{}, err
	}
	if err := domain.ValidateProbability("probability", q); err != nil {
		return Estimate{}, err
	}

	seed := s.seed
	if !s.seeded {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var (
		mean, m2 float64
		wins     int
	)
	win, loss := 1-p, -p
	for i := 1; i <= s.iterations; i++ {
		x := loss
		if rng.Float64() < q {
			x = win
		}
		if x > 0 {
			wins++
		}
		// Welford
		delta := x - mean
		mean += delta / float64(i)
		m2 += delta * (x - mean)
	}

	n := float64(s.iterations)
	est := Estimate{
		EV:           mean,
		WinRate:      float64(wins) / n,
		Iterations:   s.iterations,
		ClosedFormEV: ClosedFormEV(p, q),
	}
	if s.iterations > 1 {
		est.Variance = m2 / (n - 1)
		est.StdErr = math.Sqrt(est.Variance / n)
	}
	return est, nil
}

// ClosedFormEV is the exact expected payoff per unit stake.
func ClosedFormEV(p, q float64) float64 {
	return q*(1-p) - (1-q)*p
}

// KellyFraction is the growth-optimal fraction of bankroll to stake on a
// binary contract bought at p with win probability q. Zero when there is no edge.
func KellyFraction(p, q float64) float64 {
	if q <= p || p >= 1 {
		return 0
	}
	return (q - p) / (1 - p)
}

// Tolerance is the convergence bound used for a run of n trials.
func Tolerance(n int) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	return 3 / math.Sqrt(float64(n))
}
