package domain

import "time"

// Verdict is the trade/no-trade outcome of evaluating an opportunity.
type Verdict string

const (
	VerdictAccept Verdict = "ACCEPT"
	VerdictReject Verdict = "REJECT"
	VerdictHold   Verdict = "HOLD"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAccept, VerdictReject, VerdictHold:
		return true
	default:
		return false
	}
}

// Signal is the persisted result of evaluating one opportunity.
// It is appended once to the ledger and never mutated.
type Signal struct {
	ID         string    `json:"id"`
	Ticker     string    `json:"ticker"`
	Confidence float64   `json:"confidence"`
	EV         float64   `json:"ev"`
	Verdict    Verdict   `json:"verdict"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
