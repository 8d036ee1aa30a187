package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/bus"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/risk"
	"github.com/paperdesk/venue-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

type env struct {
	agg   *risk.Aggregator
	store *store.MemoryStore
	ctx   context.Context

	market     func(model.Envelope)
	executions func(model.Envelope)
}

func universe() []model.Instrument {
	maturity := time.Date(2036, 6, 15, 0, 0, 0, 0, time.UTC)
	return []model.Instrument{
		{
			ID:       "ACME",
			Class:    model.AssetEquity,
			TickSize: d(0.01),
			LotSize:  d(1),
		},
		{
			ID:          "ACME-C110",
			Class:       model.AssetOption,
			TickSize:    d(0.01),
			LotSize:     d(1),
			Underlier:   "ACME",
			OptionDelta: d(0.48),
		},
		{
			ID:               "UST-10Y",
			Class:            model.AssetBond,
			TickSize:         d(0.01),
			LotSize:          d(1000),
			Maturity:         &maturity,
			ModifiedDuration: d(8.5),
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore(0)
	b := bus.New(256)
	t.Cleanup(b.Close)

	agg := risk.NewAggregator(st, b, universe(), d(0.01), func() time.Time { return t0 })
	agg.SeedAccount("alice", d(1_000_000))

	ctx := context.Background()
	return &env{
		agg:        agg,
		store:      st,
		ctx:        ctx,
		market:     agg.MarketHandler(ctx),
		executions: agg.ExecutionsHandler(ctx),
	}
}

func (e *env) tick(t *testing.T, instrumentID string, mid float64, at time.Time) {
	t.Helper()
	ev := model.TickEvent{
		InstrumentID: instrumentID,
		Timestamp:    at,
		Bid:          d(mid - 0.005),
		Ask:          d(mid + 0.005),
		Mid:          d(mid),
	}
	env, err := model.NewEnvelope(model.EventTick, instrumentID, at, ev)
	if err != nil {
		t.Fatalf("tick envelope: %v", err)
	}
	e.market(env)
}

func (e *env) fill(t *testing.T, userID, instrumentID string, side model.Side, qty, price float64, at time.Time) {
	t.Helper()
	ev := model.ExecutionEvent{
		TradeID:      "t-" + instrumentID,
		OrderID:      "o-" + instrumentID,
		UserID:       userID,
		InstrumentID: instrumentID,
		Side:         side,
		QtyFilled:    d(qty),
		Price:        d(price),
		Timestamp:    at,
	}
	env, err := model.NewEnvelope(model.EventExecution, userID, at, ev)
	if err != nil {
		t.Fatalf("execution envelope: %v", err)
	}
	e.executions(env)
}

func (e *env) snapshot(t *testing.T, userID string) model.PortfolioSnapshot {
	t.Helper()
	snap, ok := e.agg.Snapshot(userID)
	if !ok {
		t.Fatalf("no snapshot for %s", userID)
	}
	return snap
}

func (e *env) persisted(t *testing.T, userID string) int {
	t.Helper()
	snaps, err := e.store.RecentPortfolioSnapshots(e.ctx, userID, 1000)
	if err != nil {
		t.Fatalf("recent snapshots: %v", err)
	}
	return len(snaps)
}

// --- NAV accounting ---

func TestSnapshot_SeededAccountIsAllCash(t *testing.T) {
	e := newEnv(t)
	snap := e.snapshot(t, "alice")

	if !snap.NAV.Equal(d(1_000_000)) || !snap.Cash.Equal(d(1_000_000)) {
		t.Errorf("NAV/cash = %s/%s, want 1000000 each", snap.NAV, snap.Cash)
	}
	if !snap.UnrealizedPnL.IsZero() || !snap.RealizedPnL.IsZero() {
		t.Errorf("pnl = %s/%s, want zero", snap.UnrealizedPnL, snap.RealizedPnL)
	}
}

func TestOnExecution_BuyMovesCashAndOpensPosition(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)

	snap := e.snapshot(t, "alice")
	if !snap.Cash.Equal(d(990_000)) {
		t.Errorf("cash = %s, want 990000", snap.Cash)
	}
	// Marked at the fill price until a tick arrives, so NAV is unchanged.
	if !snap.NAV.Equal(d(1_000_000)) {
		t.Errorf("NAV = %s, want 1000000", snap.NAV)
	}
}

func TestOnTick_MarkMovesUnrealizedAndNAV(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)
	e.tick(t, "ACME", 105, t0.Add(time.Second))

	snap := e.snapshot(t, "alice")
	if !snap.UnrealizedPnL.Equal(d(500)) {
		t.Errorf("unrealized = %s, want 500", snap.UnrealizedPnL)
	}
	if !snap.NAV.Equal(d(1_000_500)) {
		t.Errorf("NAV = %s, want 1000500", snap.NAV)
	}
	// NAV identity: cash + sum(qty * mark).
	if !snap.NAV.Equal(snap.Cash.Add(d(100 * 105))) {
		t.Errorf("NAV identity broken: %s != %s + %v", snap.NAV, snap.Cash, 100*105)
	}
}

func TestOnExecution_ReduceRealizesPnL(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)
	e.fill(t, "alice", "ACME", model.SideSell, 40, 110, t0.Add(time.Second))

	snap := e.snapshot(t, "alice")
	if !snap.RealizedPnL.Equal(d(400)) {
		t.Errorf("realized = %s, want 400", snap.RealizedPnL)
	}
	// 60 remain at avg 100, marked at the last fill price 110.
	if !snap.UnrealizedPnL.Equal(d(600)) {
		t.Errorf("unrealized = %s, want 600", snap.UnrealizedPnL)
	}
}

func TestOnExecution_ShortPositionMarksSymmetrically(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideSell, 100, 100, t0)
	e.tick(t, "ACME", 95, t0.Add(time.Second))

	snap := e.snapshot(t, "alice")
	if !snap.Cash.Equal(d(1_010_000)) {
		t.Errorf("cash = %s, want 1010000", snap.Cash)
	}
	if !snap.UnrealizedPnL.Equal(d(500)) {
		t.Errorf("short unrealized = %s, want 500", snap.UnrealizedPnL)
	}
}

func TestOnExecution_UnknownUserAutoCreated(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "carol", "ACME", model.SideBuy, 10, 100, t0)

	snap := e.snapshot(t, "carol")
	if !snap.Cash.Equal(d(-1000)) {
		t.Errorf("cash = %s, want -1000 (no seeded balance)", snap.Cash)
	}
}

// --- Emission gating ---

func TestEmission_SkippedWhenNAVWithinEpsilon(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)
	before := e.persisted(t, "alice")
	if before == 0 {
		t.Fatal("first fill did not persist a snapshot")
	}

	// A tick at the same mark moves NAV by zero.
	e.tick(t, "ACME", 100, t0.Add(time.Second))
	if got := e.persisted(t, "alice"); got != before {
		t.Errorf("snapshots = %d after flat tick, want %d", got, before)
	}

	// A material move emits again.
	e.tick(t, "ACME", 101, t0.Add(2*time.Second))
	if got := e.persisted(t, "alice"); got != before+1 {
		t.Errorf("snapshots = %d after 1.00 move, want %d", got, before+1)
	}
}

func TestEmission_OnlyHoldersReMarkedOnTick(t *testing.T) {
	e := newEnv(t)
	e.agg.SeedAccount("bob", d(500_000))
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)

	e.tick(t, "ACME", 105, t0.Add(time.Second))
	if got := e.persisted(t, "bob"); got != 0 {
		t.Errorf("bob has %d snapshots without holding the instrument", got)
	}
}

// --- Exposures ---

func TestCompute_DeltaAggregatesByUnderlier(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)
	e.fill(t, "alice", "ACME-C110", model.SideBuy, 10, 4.20, t0)

	snap := e.snapshot(t, "alice")
	// 100 shares at delta 1 plus 10 options at delta 0.48.
	if got := snap.DeltaExposure["ACME"]; !got.Equal(d(104.8)) {
		t.Errorf("ACME delta = %s, want 104.8", got)
	}
	if _, ok := snap.DeltaExposure["ACME-C110"]; ok {
		t.Error("option exposure not folded into its underlier")
	}
}

func TestCompute_DV01BucketedByMaturity(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "UST-10Y", model.SideBuy, 10, 98, t0)

	snap := e.snapshot(t, "alice")
	// Maturity mid-2036 lands in the 5-10Y bucket from 2026.
	got, ok := snap.DV01Exposure["5-10Y"]
	if !ok {
		t.Fatalf("no 5-10Y bucket: %+v", snap.DV01Exposure)
	}
	// Long rate-sensitive position loses when rates rise: -10 * 8.5 * 98 / 10000.
	if !got.Equal(d(-0.833)) {
		t.Errorf("DV01 = %s, want -0.833", got)
	}
}

func TestCompute_EquityHasNoDV01(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "alice", "ACME", model.SideBuy, 100, 100, t0)

	snap := e.snapshot(t, "alice")
	if len(snap.DV01Exposure) != 0 {
		t.Errorf("equity produced DV01 exposure: %+v", snap.DV01Exposure)
	}
}

// --- Lookup ---

func TestSnapshot_UnknownUser(t *testing.T) {
	e := newEnv(t)
	if _, ok := e.agg.Snapshot("ghost"); ok {
		t.Error("snapshot for unknown user reported ok")
	}
}
