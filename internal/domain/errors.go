package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError reports malformed input. It is never retriable and the
// offending value is never coerced into range.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DurabilityError wraps a storage failure on the queue or ledger.
// The operation did not take effect; the caller decides whether to retry.
type DurabilityError struct {
	Op  string // "push", "pop", "size", "append", ...
	Err error
}

func (e *DurabilityError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DurabilityError) IsRetriable() bool {
	return true
}

func (e *DurabilityError) Unwrap() error {
	return e.Err
}

// NewDurabilityError wraps err as a durability failure of op.
func NewDurabilityError(op string, err error) *DurabilityError {
	return &DurabilityError{Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrProbabilityOutOfRange is wrapped by ValidationError for prices/probabilities outside [0,1].
	ErrProbabilityOutOfRange = errors.New("probability out of range [0,1]")

	// ErrEmptyTicker is returned for opportunities without a ticker.
	ErrEmptyTicker = errors.New("ticker is empty")

	// ErrUnknownLane is returned when a queue lane is not one of the fixed lanes.
	ErrUnknownLane = errors.New("unknown queue lane")

	// ErrUndecodable is returned by Pop for an entry moved to the dead letters.
	ErrUndecodable = errors.New("undecodable queue entry")

	// ErrLedgerImmutable is returned on any attempt to update or delete a signal record.
	ErrLedgerImmutable = errors.New("signal ledger is append-only")

	// ErrShuttingDown is returned when work is offered after the kill event.
	ErrShuttingDown = errors.New("system is shutting down")

	// ErrFloorBreach is returned when a settlement would take the balance below the hard floor.
	ErrFloorBreach = errors.New("balance would fall below hard floor")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
