package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"predict_go/internal/domain"

	"gorm.io/gorm"
)

var errUnknownVerdict = errors.New("unknown verdict")

// SignalRecord is the persisted form of a domain.Signal.
type SignalRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SignalID   string    `gorm:"uniqueIndex;size:32;not null" json:"id"`
	Ticker     string    `gorm:"index;not null" json:"ticker"`
	Confidence float64   `json:"confidence"`
	EV         float64   `json:"ev"`
	Verdict    string    `gorm:"size:8;not null" json:"verdict"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
}

// TableName pins the ledger table name.
func (SignalRecord) TableName() string { return "signals" }

// BeforeUpdate rejects every update issued through gorm.
func (r *SignalRecord) BeforeUpdate(tx *gorm.DB) error { return domain.ErrLedgerImmutable }

// BeforeDelete rejects every delete issued through gorm.
func (r *SignalRecord) BeforeDelete(tx *gorm.DB) error { return domain.ErrLedgerImmutable }

// ledgerTriggers enforce append-only at the SQL level as well.
var ledgerTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS signals_no_update BEFORE UPDATE ON signals
	 BEGIN SELECT RAISE(ABORT, 'signal ledger is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS signals_no_delete BEFORE DELETE ON signals
	 BEGIN SELECT RAISE(ABORT, 'signal ledger is append-only'); END`,
}

func (r *SignalRecord) toDomain() domain.Signal {
	return domain.Signal{
		ID:         r.SignalID,
		Ticker:     r.Ticker,
		Confidence: r.Confidence,
		EV:         r.EV,
		Verdict:    domain.Verdict(r.Verdict),
		Reason:     r.Reason,
		Timestamp:  r.Timestamp,
	}
}

// Ledger is the append-only signal store.
type Ledger struct {
	db *gorm.DB
	mu sync.Mutex // serialises writers
}

// NewLedger creates the ledger over an opened Storage.
func NewLedger(s *Storage) *Ledger {
	return &Ledger{db: s.db}
}

// Append persists one signal. Safe for concurrent use.
func (l *Ledger) Append(ctx context.Context, s domain.Signal) error {
	if s.Ticker == "" {
		return &domain.ValidationError{Field: "ticker", Value: s.Ticker, Err: domain.ErrEmptyTicker}
	}
	if !s.Verdict.Valid() {
		return &domain.ValidationError{Field: "verdict", Value: s.Verdict, Err: errUnknownVerdict}
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	rec := SignalRecord{
		SignalID:   s.ID,
		Ticker:     s.Ticker,
		Confidence: s.Confidence,
		EV:         s.EV,
		Verdict:    string(s.Verdict),
		Reason:     s.Reason,
		Timestamp:  s.Timestamp.UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.NewDurabilityError("append", err)
	}
	return nil
}

// Latest returns up to n signals, most recent first.
func (l *Ledger) Latest(ctx context.Context, n int) ([]domain.Signal, error) {
	var recs []SignalRecord
	err := l.db.WithContext(ctx).Order("timestamp desc, id desc").Limit(n).Find(&recs).Error
	if err != nil {
		return nil, domain.NewDurabilityError("latest", err)
	}
	return toSignals(recs), nil
}

// ByTicker returns up to n signals for ticker, most recent first.
func (l *Ledger) ByTicker(ctx context.Context, ticker string, n int) ([]domain.Signal, error) {
	var recs []SignalRecord
	err := l.db.WithContext(ctx).Where("ticker = ?", ticker).Order("timestamp desc, id desc").Limit(n).Find(&recs).Error
	if err != nil {
		return nil, domain.NewDurabilityError("by_ticker", err)
	}
	return toSignals(recs), nil
}

// Count returns the number of recorded signals.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&SignalRecord{}).Count(&n).Error; err != nil {
		return 0, domain.NewDurabilityError("count", err)
	}
	return n, nil
}

// After returns up to limit records with a row ID greater than afterID, oldest first.
// Used for incremental export.
func (l *Ledger) After(ctx context.Context, afterID uint64, limit int) ([]SignalRecord, error) {
	var recs []SignalRecord
	err := l.db.WithContext(ctx).Where("id > ?", afterID).Order("id asc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, domain.NewDurabilityError("after", err)
	}
	return recs, nil
}

func toSignals(recs []SignalRecord) []domain.Signal {
	out := make([]domain.Signal, len(recs))
	for i := range recs {
		out[i] = recs[i].toDomain()
	}
	return out
}
