package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"predict_go/internal/domain"
)

const (
	settingBalance   = "vault.balance_cents"
	settingPrincipal = "vault.principal_cents"
	settingReserved  = "vault.reserved_cents"
	settingSession   = "vault.session_date"

	sessionLayout = time.DateOnly
)

// Treasury is the single owner of mutable vault state. Stakes approved by the
// risk policy are reserved here until their execution settles, so concurrent
// approvals are all measured against the same available balance.
//
// Every change is stored before it is applied. Reservations are stored too:
// a stake still queued for execution stays reserved across a restart.
type Treasury struct {
	mu      sync.RWMutex
	state   domain.VaultState
	session string // UTC date the principal belongs to, empty until recorded
	store   domain.SettingsStore // optional
}

// NewTreasury creates a treasury from the configured vault.
func NewTreasury(initial domain.VaultState, store domain.SettingsStore) *Treasury {
	return &Treasury{state: initial, store: store}
}

// Restore loads the persisted vault, if any.
func (t *Treasury) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state
	for key, dst := range map[string]*domain.Cents{
		settingBalance:   &next.Balance,
		settingPrincipal: &next.Principal,
		settingReserved:  &next.Reserved,
	} {
		raw, ok, err := t.store.LoadConfig(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt setting %s=%q: %w", key, raw, err)
		}
		*dst = domain.Cents(v)
	}

	session, ok, err := t.store.LoadConfig(ctx, settingSession)
	if err != nil {
		return err
	}
	if ok {
		if _, err := time.Parse(sessionLayout, session); err != nil {
			return fmt.Errorf("corrupt setting %s=%q: %w", settingSession, session, err)
		}
	}

	if err := next.Verify(); err != nil {
		return err
	}
	t.state, t.session = next, session
	return nil
}

// Snapshot returns a copy of the vault state.
func (t *Treasury) Snapshot() domain.VaultState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Session returns the date the current principal was set for.
func (t *Treasury) Session() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}

// Reserve commits stake to a pending execution. It refuses a stake whose
// full loss would take the available balance below the hard floor.
func (t *Treasury) Reserve(ctx context.Context, stake domain.Cents) error {
	if stake <= 0 {
		return &domain.ValidationError{Field: "stake", Value: stake, Err: fmt.Errorf("must be positive")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Available()-stake < t.state.HardFloor {
		return fmt.Errorf("reserve %s (available %s): %w", stake, t.state.Available(), domain.ErrFloorBreach)
	}
	next := t.state
	next.Reserved += stake
	return t.commit(ctx, next, t.session)
}

// Release returns a reservation without settling it.
func (t *Treasury) Release(ctx context.Context, stake domain.Cents) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state
	next.Reserved -= min(max(stake, 0), next.Reserved)
	return t.commit(ctx, next, t.session)
}

// Settle applies the pnl of a stake and releases its reservation. A stake
// larger than what is reserved releases only what is there.
func (t *Treasury) Settle(ctx context.Context, stake, pnl domain.Cents) (domain.VaultState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if stake < 0 {
		return t.state, &domain.ValidationError{Field: "stake", Value: stake, Err: fmt.Errorf("must not be negative")}
	}

	next := t.state
	next.Reserved -= min(stake, next.Reserved)
	next.Balance += pnl
	if next.Balance < next.HardFloor {
		return t.state, fmt.Errorf("settle pnl %s: %w", pnl, domain.ErrFloorBreach)
	}
	if err := next.Verify(); err != nil {
		return t.state, err
	}
	if err := t.commit(ctx, next, t.session); err != nil {
		return t.state, err
	}
	return t.state, nil
}

// RollDay starts a new session when now falls on a later UTC date than the
// current one: the balance becomes the principal the daily goal is measured
// from. The first call only records the date. It reports whether it rolled.
func (t *Treasury) RollDay(ctx context.Context, now time.Time) (bool, error) {
	today := now.UTC().Format(sessionLayout)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session >= today {
		return false, nil
	}
	rolled := t.session != ""
	next := t.state
	if rolled {
		next.Principal = next.Balance
	}
	if err := t.commit(ctx, next, today); err != nil {
		return false, err
	}
	return rolled, nil
}

// commit stores next and session in one write, then applies them.
// Callers hold t.mu.
func (t *Treasury) commit(ctx context.Context, next domain.VaultState, session string) error {
	if err := next.Verify(); err != nil {
		return err
	}
	if t.store != nil {
		kv := map[string]string{
			settingBalance:   strconv.FormatInt(int64(next.Balance), 10),
			settingPrincipal: strconv.FormatInt(int64(next.Principal), 10),
			settingReserved:  strconv.FormatInt(int64(next.Reserved), 10),
		}
		if session != "" {
			kv[settingSession] = session
		}
		if err := t.store.SaveConfigs(ctx, kv); err != nil {
			return err
		}
	}
	t.state, t.session = next, session
	return nil
}
