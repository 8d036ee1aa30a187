// Package ledger applies fills atomically against user accounts: cash
// movement, position update with weighted-average-cost accounting, and the
// append of the immutable trade record all commit together or not at all.
// Mutation for one user is strictly serialized; fills for different users
// proceed independently.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/retry"
	"github.com/paperdesk/venue-engine/internal/store"
)

var (
	// ErrInsufficientBalance is returned when a fill would drive cash
	// negative for a user without margin. No partial fill is applied.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrUnknownAccount is returned for fills against users with no account.
	ErrUnknownAccount = errors.New("ledger: unknown account")

	// ErrDuplicateAccount is returned when seeding an account twice.
	ErrDuplicateAccount = errors.New("ledger: account already exists")

	// ErrHalted is returned after a persistence failure has poisoned the
	// user's write path; no further mutation is accepted until restart.
	ErrHalted = errors.New("ledger: mutation halted after persistence failure")
)

type userState struct {
	mu        sync.Mutex
	acct      model.Account
	positions map[string]*model.Position
	realized  decimal.Decimal
	poisoned  error
}

// Ledger owns all account and position state. Trades are persisted through
// the append-only store as part of each commit, retried with linear
// backoff before a failure poisons the affected user.
type Ledger struct {
	store    store.Store
	clock    func() time.Time
	attempts int
	backoff  time.Duration

	mu    sync.RWMutex
	users map[string]*userState
}

// New creates a ledger persisting trades into st. Pass time.Now for clock
// in production.
func New(st store.Store, clock func() time.Time) *Ledger {
	return &Ledger{
		store:    st,
		clock:    clock,
		attempts: 3,
		backoff:  50 * time.Millisecond,
		users:    make(map[string]*userState),
	}
}

// CreateAccount seeds a user with starting cash.
func (l *Ledger) CreateAccount(userID, currency string, cash decimal.Decimal, marginAllowed bool) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", model.ErrValidation)
	}
	if cash.IsNegative() && !marginAllowed {
		return fmt.Errorf("%w: starting cash must be non-negative without margin", model.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[userID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, userID)
	}
	l.users[userID] = &userState{
		acct: model.Account{
			UserID:        userID,
			Cash:          cash,
			Currency:      currency,
			MarginAllowed: marginAllowed,
			UpdatedAt:     l.clock().UTC(),
		},
		positions: make(map[string]*model.Position),
	}
	return nil
}

func (l *Ledger) user(userID string) (*userState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, userID)
	}
	return u, nil
}

// Account returns a copy of the user's account.
func (l *Ledger) Account(userID string) (model.Account, error) {
	u, err := l.user(userID)
	if err != nil {
		return model.Account{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.acct, nil
}

// Positions returns copies of the user's open positions.
func (l *Ledger) Positions(userID string) ([]model.Position, error) {
	u, err := l.user(userID)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]model.Position, 0, len(u.positions))
	for _, p := range u.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// RealizedPnL returns the user's cumulative realized P&L.
func (l *Ledger) RealizedPnL(userID string) (decimal.Decimal, error) {
	u, err := l.user(userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.realized, nil
}

// Users returns all seeded user ids.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.users))
	for id := range l.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplyFill applies a single fill. See ApplyMatch for semantics.
func (l *Ledger) ApplyFill(ctx context.Context, trade model.Trade) error {
	return l.ApplyMatch(ctx, []model.Trade{trade})
}

// ApplyMatch commits all trades of one match atomically: cash, positions,
// realized P&L and trade records for every involved user move together or
// not at all. Solvency is checked pre-commit under the same locks, so no
// concurrent fill for the same user can interleave and create a
// negative-balance race. Involved users are locked in sorted order.
func (l *Ledger) ApplyMatch(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	byUser := make(map[string][]model.Trade)
	var userIDs []string
	for _, t := range trades {
		if _, ok := byUser[t.UserID]; !ok {
			userIDs = append(userIDs, t.UserID)
		}
		byUser[t.UserID] = append(byUser[t.UserID], t)
	}
	sort.Strings(userIDs)

	states := make(map[string]*userState, len(userIDs))
	for _, id := range userIDs {
		u, err := l.user(id)
		if err != nil {
			return err
		}
		states[id] = u
	}
	for _, id := range userIDs {
		states[id].mu.Lock()
	}
	defer func() {
		for _, id := range userIDs {
			states[id].mu.Unlock()
		}
	}()

	// Pre-commit validation: poisoned paths and solvency, before any
	// mutation or persistence.
	type pending struct {
		cash      decimal.Decimal
		positions map[string]model.Position
		realized  decimal.Decimal
	}
	plans := make(map[string]pending, len(userIDs))
	for _, id := range userIDs {
		u := states[id]
		if u.poisoned != nil {
			return fmt.Errorf("%w: user %s: %v", ErrHalted, id, u.poisoned)
		}

		plan := pending{cash: u.acct.Cash, positions: make(map[string]model.Position), realized: u.realized}
		for _, t := range byUser[id] {
			notional := t.Notional()
			if t.Side == model.SideBuy {
				plan.cash = plan.cash.Sub(notional)
			} else {
				plan.cash = plan.cash.Add(notional)
			}

			pos, ok := plan.positions[t.InstrumentID]
			if !ok {
				if existing := u.positions[t.InstrumentID]; existing != nil {
					pos = *existing
				} else {
					pos = model.Position{UserID: id, InstrumentID: t.InstrumentID}
				}
			}
			var realized decimal.Decimal
			pos, realized = applyToPosition(pos, t)
			plan.positions[t.InstrumentID] = pos
			plan.realized = plan.realized.Add(realized)
		}

		if plan.cash.IsNegative() && !u.acct.MarginAllowed {
			return fmt.Errorf("%w: user %s would hold %s", ErrInsufficientBalance, id, plan.cash)
		}
		plans[id] = plan
	}

	// Persist the immutable trade records. The store contract is
	// append-only, so a failure here poisons the affected user's write
	// path instead of proceeding with unpersisted state.
	for _, t := range trades {
		trade := t
		err := retry.Do(ctx, l.attempts, l.backoff, func() error {
			return l.store.AppendTrade(ctx, trade)
		})
		if err != nil {
			u := states[t.UserID]
			u.poisoned = err
			slog.Error("trade persistence failed, halting user mutation",
				"user", t.UserID, "trade_id", t.ID, "err", err)
			return fmt.Errorf("%w: %v", store.ErrAppendFailed, err)
		}
	}

	// Commit in-memory state.
	now := l.clock().UTC()
	for _, id := range userIDs {
		u := states[id]
		plan := plans[id]
		u.acct.Cash = plan.cash
		u.acct.UpdatedAt = now
		u.realized = plan.realized
		for instrumentID, pos := range plan.positions {
			pos.UpdatedAt = now
			if pos.Quantity.IsZero() {
				delete(u.positions, instrumentID)
				continue
			}
			p := pos
			u.positions[instrumentID] = &p
		}
	}
	return nil
}

// applyToPosition folds one trade into a position. Same-direction adds
// recompute the weighted-average cost; reducing trades extract realized
// P&L against the prior average cost; a flip realizes the closed portion
// and opens the remainder at the fill price.
func applyToPosition(pos model.Position, t model.Trade) (model.Position, decimal.Decimal) {
	signed := t.Quantity
	if t.Side == model.SideSell {
		signed = signed.Neg()
	}
	newQty := pos.Quantity.Add(signed)

	// Flat or same direction: weighted-average cost.
	if pos.Quantity.IsZero() || pos.Quantity.Sign() == signed.Sign() {
		prior := pos.Quantity.Abs().Mul(pos.AvgCost)
		added := t.Quantity.Mul(t.Price)
		pos.AvgCost = prior.Add(added).Div(newQty.Abs())
		pos.Quantity = newQty
		return pos, decimal.Zero
	}

	closed := decimal.Min(t.Quantity, pos.Quantity.Abs())
	perUnit := t.Price.Sub(pos.AvgCost)
	if pos.Quantity.Sign() < 0 {
		perUnit = pos.AvgCost.Sub(t.Price) // covering a short
	}
	realized := perUnit.Mul(closed)

	switch {
	case newQty.IsZero():
		pos.Quantity = decimal.Zero
		pos.AvgCost = decimal.Zero
	case newQty.Sign() == pos.Quantity.Sign():
		pos.Quantity = newQty // partial reduce keeps the prior average
	default:
		pos.Quantity = newQty // flipped: remainder opens at the fill price
		pos.AvgCost = t.Price
	}
	return pos, realized
}
