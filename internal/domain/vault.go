package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in integer minor units.
type Cents int64

// CentsFromDecimal converts a dollar amount to cents, rounding half away from zero.
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).Round(0).IntPart())
}

// Decimal returns the amount in dollars.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the amount as dollars with two decimals.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// VaultState is the capital bookkeeping read by the risk policy before every
// trade decision. All amounts are cents.
type VaultState struct {
	Principal  Cents `json:"principal"`
	HardFloor  Cents `json:"hard_floor"`
	DailyGoal  Cents `json:"daily_goal"`
	ProfitLock Cents `json:"profit_lock"`
	Balance    Cents `json:"balance"`
	Reserved   Cents `json:"reserved"` // Stakes approved but not yet settled
}

// Available returns the balance not committed to pending executions.
func (v VaultState) Available() Cents {
	return v.Balance - v.Reserved
}

// GoalReached reports whether the session profit goal has been met.
func (v VaultState) GoalReached() bool {
	return v.Balance >= v.Principal+v.DailyGoal
}

// Verify checks the vault invariants.
func (v VaultState) Verify() error {
	if v.Reserved < 0 {
		return fmt.Errorf("VAULT_INVARIANT_NEGATIVE_RESERVED: %d", v.Reserved)
	}
	if v.Reserved > v.Balance {
		return fmt.Errorf("VAULT_INVARIANT_RESERVED_EXCEEDS_BALANCE: reserved=%d, balance=%d", v.Reserved, v.Balance)
	}
	if v.HardFloor < 0 {
		return fmt.Errorf("VAULT_INVARIANT_NEGATIVE_FLOOR: %d", v.HardFloor)
	}
	return nil
}
