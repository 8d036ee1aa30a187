// Package risk implements the portfolio aggregator. It derives per-user
// NAV, P&L and exposures purely from the event stream: executions move
// cash and positions, ticks move marks. It never reaches into engine or
// ledger state, so its view is exactly what the bus delivered, in order.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/bus"
	"github.com/paperdesk/venue-engine/internal/metrics"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/retry"
	"github.com/paperdesk/venue-engine/internal/store"
)

// DefaultEpsilon is the minimum NAV move that triggers a fresh snapshot.
var DefaultEpsilon = decimal.NewFromFloat(0.01)

type posState struct {
	qty     decimal.Decimal // signed
	avgCost decimal.Decimal
}

type userRisk struct {
	cash      decimal.Decimal
	realized  decimal.Decimal
	positions map[string]posState

	lastNAV decimal.Decimal
	emitted bool
}

// Aggregator folds market and execution events into per-user portfolio
// snapshots, emitting one whenever NAV moves by more than epsilon.
type Aggregator struct {
	store   store.Store
	bus     *bus.Bus
	clock   func() time.Time
	epsilon decimal.Decimal

	mu          sync.Mutex
	instruments map[string]model.Instrument
	marks       map[string]decimal.Decimal
	users       map[string]*userRisk
}

// NewAggregator creates an aggregator over the given instrument universe.
// epsilon <= 0 uses DefaultEpsilon.
func NewAggregator(st store.Store, b *bus.Bus, instruments []model.Instrument, epsilon decimal.Decimal, clock func() time.Time) *Aggregator {
	if !epsilon.IsPositive() {
		epsilon = DefaultEpsilon
	}
	byID := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}
	return &Aggregator{
		store:       st,
		bus:         b,
		clock:       clock,
		epsilon:     epsilon,
		instruments: byID,
		marks:       make(map[string]decimal.Decimal),
		users:       make(map[string]*userRisk),
	}
}

// SeedAccount registers a user's starting cash so snapshots exist before
// the first fill.
func (a *Aggregator) SeedAccount(userID string, cash decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[userID]; ok {
		return
	}
	a.users[userID] = &userRisk{cash: cash, positions: make(map[string]posState)}
}

// MarketHandler returns the market-topic consumer: ticks refresh marks and
// re-mark every holder of the instrument.
func (a *Aggregator) MarketHandler(ctx context.Context) func(model.Envelope) {
	return func(env model.Envelope) {
		if env.Type != model.EventTick {
			return
		}
		var ev model.TickEvent
		if err := env.Decode(&ev); err != nil {
			slog.Warn("risk: dropping market event", "err", err)
			return
		}
		a.onTick(ctx, ev.InstrumentID, ev.Mid, ev.Timestamp)
	}
}

// ExecutionsHandler returns the executions-topic consumer.
func (a *Aggregator) ExecutionsHandler(ctx context.Context) func(model.Envelope) {
	return func(env model.Envelope) {
		if env.Type != model.EventExecution {
			return
		}
		var ev model.ExecutionEvent
		if err := env.Decode(&ev); err != nil {
			slog.Warn("risk: dropping execution event", "err", err)
			return
		}
		a.onExecution(ctx, ev)
	}
}

func (a *Aggregator) onTick(ctx context.Context, instrumentID string, mid decimal.Decimal, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.marks[instrumentID] = mid
	for userID, u := range a.users {
		if _, holds := u.positions[instrumentID]; holds {
			a.maybeEmitLocked(ctx, userID, ts)
		}
	}
}

func (a *Aggregator) onExecution(ctx context.Context, ev model.ExecutionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[ev.UserID]
	if !ok {
		u = &userRisk{positions: make(map[string]posState)}
		a.users[ev.UserID] = u
	}

	notional := ev.QtyFilled.Mul(ev.Price)
	signed := ev.QtyFilled
	if ev.Side == model.SideBuy {
		u.cash = u.cash.Sub(notional)
	} else {
		u.cash = u.cash.Add(notional)
		signed = signed.Neg()
	}

	pos := u.positions[ev.InstrumentID]
	pos, realized := foldPosition(pos, signed, ev.Price)
	u.realized = u.realized.Add(realized)
	if pos.qty.IsZero() {
		delete(u.positions, ev.InstrumentID)
	} else {
		u.positions[ev.InstrumentID] = pos
	}

	// A fill without a prior tick still marks at the fill price.
	if _, ok := a.marks[ev.InstrumentID]; !ok {
		a.marks[ev.InstrumentID] = ev.Price
	}
	a.maybeEmitLocked(ctx, ev.UserID, ev.Timestamp)
}

// foldPosition mirrors the ledger's weighted-average-cost accounting on the
// aggregator's independent view of the stream.
func foldPosition(pos posState, signed, price decimal.Decimal) (posState, decimal.Decimal) {
	newQty := pos.qty.Add(signed)
	if pos.qty.IsZero() || pos.qty.Sign() == signed.Sign() {
		prior := pos.qty.Abs().Mul(pos.avgCost)
		added := signed.Abs().Mul(price)
		pos.avgCost = prior.Add(added).Div(newQty.Abs())
		pos.qty = newQty
		return pos, decimal.Zero
	}

	closed := decimal.Min(signed.Abs(), pos.qty.Abs())
	perUnit := price.Sub(pos.avgCost)
	if pos.qty.Sign() < 0 {
		perUnit = pos.avgCost.Sub(price)
	}
	realized := perUnit.Mul(closed)

	switch {
	case newQty.IsZero():
		pos = posState{}
	case newQty.Sign() == pos.qty.Sign():
		pos.qty = newQty
	default:
		pos = posState{qty: newQty, avgCost: price}
	}
	return pos, realized
}

// maybeEmitLocked recomputes the user's snapshot and emits it when NAV has
// moved by more than epsilon since the last emission.
func (a *Aggregator) maybeEmitLocked(ctx context.Context, userID string, ts time.Time) {
	u, ok := a.users[userID]
	if !ok {
		return
	}
	snap := a.computeLocked(userID, u, ts)

	if u.emitted && snap.NAV.Sub(u.lastNAV).Abs().LessThanOrEqual(a.epsilon) {
		return
	}
	u.emitted = true
	u.lastNAV = snap.NAV

	err := retry.Do(ctx, 3, 50*time.Millisecond, func() error {
		return a.store.AppendPortfolioSnapshot(ctx, snap)
	})
	if err != nil {
		slog.Error("portfolio snapshot append failed", "user", userID, "err", err)
	}

	env, err := model.NewEnvelope(model.EventPortfolio, userID, snap.Timestamp, model.PortfolioEventFrom(snap))
	if err != nil {
		slog.Error("encode portfolio snapshot failed", "user", userID, "err", err)
		return
	}
	if _, err := a.bus.Publish(model.TopicRisk, env); err != nil {
		slog.Warn("publish portfolio snapshot failed", "user", userID, "err", err)
		return
	}
	metrics.PortfolioSnapshots.Inc()
	metrics.BusPublished.WithLabelValues(model.TopicRisk).Inc()
}

func (a *Aggregator) computeLocked(userID string, u *userRisk, ts time.Time) model.PortfolioSnapshot {
	nav := u.cash
	unrealized := decimal.Zero
	delta := make(map[string]decimal.Decimal)
	dv01 := make(map[string]decimal.Decimal)
	basisPoint := decimal.NewFromInt(10000)

	for instrumentID, pos := range u.positions {
		mark, ok := a.marks[instrumentID]
		if !ok {
			mark = pos.avgCost
		}
		nav = nav.Add(pos.qty.Mul(mark))
		unrealized = unrealized.Add(pos.qty.Mul(mark.Sub(pos.avgCost)))

		inst, known := a.instruments[instrumentID]
		if !known {
			continue
		}

		optionDelta := inst.OptionDelta
		if optionDelta.IsZero() {
			optionDelta = decimal.NewFromInt(1)
		}
		key := inst.UnderlierID()
		delta[key] = delta[key].Add(pos.qty.Mul(optionDelta))

		if bucket := inst.MaturityBucket(ts); bucket != "" {
			// Dollar P&L per one basis point rise in rates: negative for
			// a long rate-sensitive position.
			d := pos.qty.Neg().Mul(inst.ModifiedDuration).Mul(mark).Div(basisPoint)
			dv01[bucket] = dv01[bucket].Add(d)
		}
	}

	return model.PortfolioSnapshot{
		UserID:        userID,
		Timestamp:     ts.UTC(),
		NAV:           nav,
		Cash:          u.cash,
		UnrealizedPnL: unrealized,
		RealizedPnL:   u.realized,
		DeltaExposure: delta,
		DV01Exposure:  dv01,
	}
}

// Snapshot computes the user's current portfolio on demand without
// emitting it.
func (a *Aggregator) Snapshot(userID string) (model.PortfolioSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[userID]
	if !ok {
		return model.PortfolioSnapshot{}, false
	}
	return a.computeLocked(userID, u, a.clock()), true
}
