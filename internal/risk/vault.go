// Package risk holds the vault policy that gates trade sizing.
package risk

import (
	"math"

	"predict_go/internal/domain"
)

// Rejection reasons.
const (
	ReasonInvalidStake    = "invalid_stake"
	ReasonLowConfidence   = "confidence_below_threshold"
	ReasonHighVariance    = "variance_above_max"
	ReasonHardFloorBreach = "hard_floor_breach"
	ReasonProfitLocked    = "profit_locked"
)

// Limits are the configured policy thresholds. Monetary values are cents.
type Limits struct {
	ConfidenceThreshold float64
	MaxVariance         float64
	MaxStake            domain.Cents
}

// Decision is the policy outcome. A rejection is a normal result, not an error.
type Decision struct {
	Approved     bool         `json:"approved"`
	Stake        domain.Cents `json:"stake"`
	Reason       string       `json:"reason,omitempty"`
	Capped       bool         `json:"capped"`
	ProfitLocked bool         `json:"profit_locked"`
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Approve gates a requested stake. Rules in order:
//
//  1. confidence below threshold is rejected
//  2. variance above maximum is rejected
//  3. the stake is capped at MaxStake
//  4. a stake whose full loss would leave the available balance below the
//     hard floor is rejected
//  5. once the daily goal is met only the balance above principal+ProfitLock
//     may be risked; the stake is capped to it or rejected when nothing is left
//
// Available balance (balance minus reservations) is what a loss is taken from.
func Approve(requested domain.Cents, state domain.VaultState, confidence, variance float64, limits Limits) Decision {
	if requested <= 0 {
		return reject(ReasonInvalidStake)
	}
	if math.IsNaN(confidence) || confidence < limits.ConfidenceThreshold {
		return reject(ReasonLowConfidence)
	}
	if math.IsNaN(variance) || variance > limits.MaxVariance {
		return reject(ReasonHighVariance)
	}

	d := Decision{Stake: requested}
	if limits.MaxStake > 0 && d.Stake > limits.MaxStake {
		d.Stake = limits.MaxStake
		d.Capped = true
	}

	available := state.Available()
	if available-d.Stake < state.HardFloor {
		return reject(ReasonHardFloorBreach)
	}

	if state.GoalReached() {
		headroom := available - (state.Principal + state.ProfitLock)
		if headroom <= 0 {
			return Decision{Reason: ReasonProfitLocked, ProfitLocked: true}
		}
		if d.Stake > headroom {
			d.Stake = headroom
			d.Capped = true
		}
		d.ProfitLocked = true
	}

	d.Approved = true
	return d
}
