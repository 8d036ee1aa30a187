package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/api"
	"github.com/paperdesk/venue-engine/internal/book"
	"github.com/paperdesk/venue-engine/internal/bus"
	"github.com/paperdesk/venue-engine/internal/config"
	"github.com/paperdesk/venue-engine/internal/dealer"
	"github.com/paperdesk/venue-engine/internal/ledger"
	"github.com/paperdesk/venue-engine/internal/match"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/risk"
	"github.com/paperdesk/venue-engine/internal/sim"
	"github.com/paperdesk/venue-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

type env struct {
	router http.Handler
	engine *match.Engine
	market func(model.Envelope)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore(0)
	eventBus := bus.New(256)
	t.Cleanup(eventBus.Close)
	clock := func() time.Time { return t0 }

	led := ledger.New(st, clock)
	if err := led.CreateAccount("alice", "USD", d(1_000_000), false); err != nil {
		t.Fatalf("create account: %v", err)
	}

	engine := match.NewEngine(led, st, eventBus, 5*time.Second, clock)

	acme := model.Instrument{
		ID: "ACME", Class: model.AssetEquity,
		TickSize: d(0.01), LotSize: d(1), Currency: "USD", Tier: model.TierHigh,
	}
	bk, err := book.NewSimulator("ACME", book.Config{
		Levels: 5, TickSize: d(0.01), BaseQty: d(500), QtyDecay: 1.0,
	}, 7)
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	if err := engine.RegisterListed(acme, bk); err != nil {
		t.Fatalf("register listed: %v", err)
	}

	ust := model.Instrument{
		ID: "UST-10Y", Class: model.AssetBond,
		TickSize: d(0.01), LotSize: d(1000), Currency: "USD", Tier: model.TierLow,
	}
	panel, err := dealer.NewPanel("UST-10Y", dealer.Config{
		Dealers: []string{"DLR-A"}, BaseSpread: 0.10, MinSpread: 0.02,
	}, 11)
	if err != nil {
		t.Fatalf("new panel: %v", err)
	}
	if err := engine.RegisterOTC(ust, panel); err != nil {
		t.Fatalf("register otc: %v", err)
	}

	agg := risk.NewAggregator(st, eventBus, []model.Instrument{acme, ust}, d(0.01), clock)
	agg.SeedAccount("alice", d(1_000_000))

	sched := sim.NewScheduler(func(model.Tick) {}, clock)
	proc, err := sim.NewGBM(100, 0.05, 0.2, 42)
	if err != nil {
		t.Fatalf("new gbm: %v", err)
	}
	sched.AddFeed(&sim.Feed{Instrument: acme, Gen: sim.NewGenerator("ACME", proc), Regime: "normal"})

	universe, err := config.ParseUniverse([]byte(`
instruments:
  - id: ACME
    asset_class: EQUITY
    tick_size: "0.01"
    lot_size: "1"
    liquidity_tier: HIGH
    start: 100.0
    vol: 0.2
    book:
      levels: 5
      base_qty: "500"
      qty_decay: 1.0
`))
	if err != nil {
		t.Fatalf("parse universe: %v", err)
	}

	svc := api.NewService(engine, led, agg, st, sched, universe)
	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Route("/api/v1", func(r chi.Router) { svc.Routes(r) })

	e := &env{router: r, engine: engine, market: engine.MarketHandler(context.Background())}
	e.tick(t, "ACME", 100.00)
	e.tick(t, "UST-10Y", 98.40)
	return e
}

func (e *env) tick(t *testing.T, instrumentID string, mid float64) {
	t.Helper()
	tk := model.Tick{
		InstrumentID: instrumentID,
		Timestamp:    t0,
		Bid:          d(mid - 0.005),
		Ask:          d(mid + 0.005),
		Mid:          d(mid),
	}
	envlp, err := model.NewEnvelope(model.EventTick, instrumentID, t0, model.TickEventFrom(tk))
	if err != nil {
		t.Fatalf("tick envelope: %v", err)
	}
	e.market(envlp)
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) model.Order {
	t.Helper()
	var o model.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode order: %v (body %s)", err, rec.Body.String())
	}
	return o
}

// --- Order entry ---

func TestSubmitOrder_MarketBuy(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "ACME", Side: model.SideBuy,
		Quantity: d(100), OrderType: model.OrderMarket,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	o := decodeOrder(t, rec)
	if o.Status != model.StatusFilled || !o.FilledQty.Equal(d(100)) {
		t.Errorf("order = %s %s, want FILLED 100", o.Status, o.FilledQty)
	}
}

func TestSubmitOrder_UnknownInstrument(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "GHOST", Side: model.SideBuy,
		Quantity: d(1), OrderType: model.OrderMarket,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitOrder_ValidationFailure(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "ACME", Side: model.SideBuy,
		Quantity: d(0), OrderType: model.OrderMarket,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitOrder_MalformedBody(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHitLift_FillsAgainstDealer(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/otc/hitlift", api.HitLiftRequest{
		UserID: "alice", InstrumentID: "UST-10Y", DealerID: "DLR-A",
		Side: model.SideBuy, Quantity: d(1000),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	o := decodeOrder(t, rec)
	if o.Status != model.StatusFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
}

// --- Order lifecycle ---

func TestCancelOrder_WrongUserForbidden(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "ACME", Side: model.SideBuy,
		Quantity: d(10), OrderType: model.OrderLimit, LimitPrice: d(99.00),
	})
	o := decodeOrder(t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/cancel", api.CancelRequest{UserID: "mallory"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCancelOrder_Resting(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "ACME", Side: model.SideBuy,
		Quantity: d(10), OrderType: model.OrderLimit, LimitPrice: d(99.00),
	})
	o := decodeOrder(t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/orders/"+o.ID+"/cancel", api.CancelRequest{UserID: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeOrder(t, rec); got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
}

func TestGetOrder(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/orders", api.OrderRequest{
		UserID: "alice", InstrumentID: "ACME", Side: model.SideBuy,
		Quantity: d(10), OrderType: model.OrderLimit, LimitPrice: d(99.00),
	})
	o := decodeOrder(t, rec)

	if rec := e.do(t, http.MethodGet, "/api/v1/orders/"+o.ID, nil); rec.Code != http.StatusOK {
		t.Errorf("lookup status = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/orders/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", rec.Code)
	}
}

// --- Market data ---

func TestGetBook(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/instruments/ACME/book", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap model.OrderBookSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Asks) == 0 || len(snap.Bids) == 0 {
		t.Errorf("empty book: %+v", snap)
	}
}

func TestGetQuotes(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/instruments/UST-10Y/quotes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var quotes []model.DealerQuote
	if err := json.Unmarshal(rec.Body.Bytes(), &quotes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(quotes) != 1 || quotes[0].DealerID != "DLR-A" {
		t.Errorf("quotes = %+v", quotes)
	}
}

func TestListInstruments(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/instruments", nil)
	var instruments []model.Instrument
	if err := json.Unmarshal(rec.Body.Bytes(), &instruments); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(instruments) != 2 {
		t.Errorf("instruments = %d, want 2", len(instruments))
	}
}

// --- Portfolio and accounts ---

func TestGetPortfolio(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/portfolio/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap model.PortfolioSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.NAV.Equal(d(1_000_000)) {
		t.Errorf("NAV = %s, want 1000000", snap.NAV)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/portfolio/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}

func TestGetAccount(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/accounts/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp api.AccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Account.Cash.Equal(d(1_000_000)) {
		t.Errorf("cash = %s, want 1000000", resp.Account.Cash)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/accounts/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d, want 404", rec.Code)
	}
}

// --- Scenario management ---

func TestApplyScenario_Preset(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/instruments/ACME/scenario", api.ScenarioRequest{Name: "volatile"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var applied sim.Override
	if err := json.Unmarshal(rec.Body.Bytes(), &applied); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if applied.VolScale != 1.5 || applied.Version != 1 {
		t.Errorf("applied = %+v, want volatile v1", applied)
	}
}

func TestApplyScenario_UnknownPreset(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/instruments/ACME/scenario", api.ScenarioRequest{Name: "meltdown"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestApplyScenario_UnknownInstrument(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/instruments/GHOST/scenario", api.ScenarioRequest{VolScale: 2})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHaltAndResume(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/instruments/ACME/halt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("halt status = %d", rec.Code)
	}
	var applied sim.Override
	json.Unmarshal(rec.Body.Bytes(), &applied)
	if !applied.Halted {
		t.Error("halt did not set the flag")
	}

	rec = e.do(t, http.MethodPost, "/api/v1/instruments/ACME/resume", nil)
	json.Unmarshal(rec.Body.Bytes(), &applied)
	if applied.Halted {
		t.Error("resume did not clear the flag")
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status      string `json:"status"`
		Service     string `json:"service"`
		Instruments []struct {
			InstrumentID string `json:"instrument_id"`
			Regime       string `json:"regime"`
		} `json:"instruments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || len(body.Instruments) != 2 {
		t.Errorf("health = %+v", body)
	}
}
