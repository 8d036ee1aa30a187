// Package api provides the HTTP surface of the venue: order entry, market
// data and portfolio queries, and scenario management.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/config"
	"github.com/paperdesk/venue-engine/internal/ledger"
	"github.com/paperdesk/venue-engine/internal/match"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/risk"
	"github.com/paperdesk/venue-engine/internal/sim"
	"github.com/paperdesk/venue-engine/internal/store"
)

// Service wires the engine, ledger, risk aggregator and simulator behind
// HTTP handlers.
type Service struct {
	engine   *match.Engine
	ledger   *ledger.Ledger
	risk     *risk.Aggregator
	store    store.Store
	sched    *sim.Scheduler
	universe config.Universe
}

// NewService creates the API service.
func NewService(engine *match.Engine, led *ledger.Ledger, agg *risk.Aggregator, st store.Store, sched *sim.Scheduler, universe config.Universe) *Service {
	return &Service{
		engine:   engine,
		ledger:   led,
		risk:     agg,
		store:    st,
		sched:    sched,
		universe: universe,
	}
}

// Routes mounts the service's handlers on the router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/instruments", s.ListInstruments)
	r.Get("/instruments/{instrumentID}/book", s.GetBook)
	r.Get("/instruments/{instrumentID}/quotes", s.GetQuotes)
	r.Get("/instruments/{instrumentID}/ticks", s.GetRecentTicks)
	r.Post("/instruments/{instrumentID}/scenario", s.ApplyScenario)
	r.Post("/instruments/{instrumentID}/halt", s.Halt)
	r.Post("/instruments/{instrumentID}/resume", s.Resume)

	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Post("/orders/{orderID}/cancel", s.CancelOrder)
	r.Post("/otc/hitlift", s.HitLift)

	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Get("/accounts/{userID}", s.GetAccount)
	r.Get("/accounts/{userID}/trades", s.GetRecentTrades)
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID       string            `json:"user_id"`
	InstrumentID string            `json:"instrument_id"`
	Side         model.Side        `json:"side"`
	Quantity     decimal.Decimal   `json:"qty"`
	OrderType    model.OrderType   `json:"order_type"`
	LimitPrice   decimal.Decimal   `json:"limit_price"`
	TimeInForce  model.TimeInForce `json:"time_in_force"`
}

// HitLiftRequest is the JSON body for POST /otc/hitlift.
type HitLiftRequest struct {
	UserID       string          `json:"user_id"`
	InstrumentID string          `json:"instrument_id"`
	DealerID     string          `json:"dealer_id"`
	Side         model.Side      `json:"side"`
	Quantity     decimal.Decimal `json:"qty"`
}

// CancelRequest is the JSON body for POST /orders/{id}/cancel.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// ScenarioRequest names a preset or carries inline override parameters.
type ScenarioRequest struct {
	Name       string  `json:"name"`
	VolScale   float64 `json:"vol_scale"`
	DriftShift float64 `json:"drift_shift"`
	MeanShift  float64 `json:"mean_shift"`
	Halted     bool    `json:"halted"`
}

// AccountResponse is the JSON body for GET /accounts/{userID}.
type AccountResponse struct {
	Account   model.Account    `json:"account"`
	Positions []model.Position `json:"positions"`
	Realized  decimal.Decimal  `json:"realized_pnl"`
}

type instrumentHealth struct {
	InstrumentID string     `json:"instrument_id"`
	Regime       string     `json:"regime"`
	Halted       bool       `json:"halted"`
	LastTick     *time.Time `json:"last_tick,omitempty"`
}

// --- Handlers ---

// Health handles GET /health with per-instrument feed status.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instruments := s.engine.Instruments()
	feeds := make([]instrumentHealth, 0, len(instruments))
	for _, inst := range instruments {
		h := instrumentHealth{InstrumentID: inst.ID, Regime: "normal"}
		if gen, ok := s.sched.Generator(inst.ID); ok {
			o := gen.Override()
			h.Halted = o.Halted
			if o.Name != "" {
				h.Regime = o.Name
			}
		}
		if t, err := s.store.LastTick(ctx, inst.ID); err == nil {
			ts := t.Timestamp
			h.LastTick = &ts
		}
		feeds = append(feeds, h)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "venue-engine",
		"instruments": feeds,
	})
}

// ListInstruments handles GET /api/v1/instruments.
func (s *Service) ListInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Instruments())
}

// GetBook handles GET /api/v1/instruments/{instrumentID}/book.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.BookSnapshot(chi.URLParam(r, "instrumentID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetQuotes handles GET /api/v1/instruments/{instrumentID}/quotes.
func (s *Service) GetQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.engine.DealerQuotes(chi.URLParam(r, "instrumentID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetRecentTicks handles GET /api/v1/instruments/{instrumentID}/ticks.
func (s *Service) GetRecentTicks(w http.ResponseWriter, r *http.Request) {
	ticks, err := s.store.RecentTicks(r.Context(), chi.URLParam(r, "instrumentID"), 100)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.Submit(r.Context(), model.OrderRequestEvent{
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Quantity:     req.Quantity,
		OrderType:    req.OrderType,
		LimitPrice:   req.LimitPrice,
		TimeInForce:  req.TimeInForce,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// HitLift handles POST /api/v1/otc/hitlift.
func (s *Service) HitLift(w http.ResponseWriter, r *http.Request) {
	var req HitLiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.Submit(r.Context(), model.OrderRequestEvent{
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Quantity:     req.Quantity,
		DealerID:     req.DealerID,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Order(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.UserID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if snap, ok := s.risk.Snapshot(userID); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	snap, err := s.store.LastPortfolioSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, "no portfolio for user "+userID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetAccount handles GET /api/v1/accounts/{userID}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	acct, err := s.ledger.Account(userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	positions, err := s.ledger.Positions(userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	realized, _ := s.ledger.RealizedPnL(userID)
	writeJSON(w, http.StatusOK, AccountResponse{
		Account:   acct,
		Positions: positions,
		Realized:  realized,
	})
}

// GetRecentTrades handles GET /api/v1/accounts/{userID}/trades.
func (s *Service) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(r.Context(), chi.URLParam(r, "userID"), 100)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// ApplyScenario handles POST /api/v1/instruments/{instrumentID}/scenario.
// The body either names a preset or carries inline override parameters.
func (s *Service) ApplyScenario(w http.ResponseWriter, r *http.Request) {
	instrumentID := chi.URLParam(r, "instrumentID")
	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	override := sim.Override{
		Name:       req.Name,
		VolScale:   req.VolScale,
		DriftShift: req.DriftShift,
		MeanShift:  req.MeanShift,
		Halted:     req.Halted,
	}
	var interval time.Duration
	if req.Name != "" {
		scen, ok := s.universe.Scenario(req.Name)
		if !ok {
			writeError(w, "unknown scenario "+req.Name, http.StatusNotFound)
			return
		}
		override.VolScale = scen.VolScale
		override.DriftShift = scen.DriftShift
		override.MeanShift = scen.MeanShift
		override.Halted = scen.Halted
		if scen.IntervalMS > 0 {
			interval = time.Duration(scen.IntervalMS) * time.Millisecond
		} else if scen.Tier != "" {
			interval = scen.Tier.DefaultInterval()
		}
	}

	gen, ok := s.sched.Generator(instrumentID)
	if !ok {
		writeError(w, "unknown instrument "+instrumentID, http.StatusNotFound)
		return
	}
	applied := gen.ApplyOverride(override)
	if interval > 0 {
		s.sched.SetInterval(instrumentID, interval)
	}
	slog.Info("scenario applied",
		"instrument", instrumentID, "scenario", req.Name, "version", applied.Version)
	writeJSON(w, http.StatusOK, applied)
}

// Halt handles POST /api/v1/instruments/{instrumentID}/halt.
func (s *Service) Halt(w http.ResponseWriter, r *http.Request) {
	s.setHalted(w, r, true)
}

// Resume handles POST /api/v1/instruments/{instrumentID}/resume.
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	s.setHalted(w, r, false)
}

func (s *Service) setHalted(w http.ResponseWriter, r *http.Request, halted bool) {
	instrumentID := chi.URLParam(r, "instrumentID")
	gen, ok := s.sched.Generator(instrumentID)
	if !ok {
		writeError(w, "unknown instrument "+instrumentID, http.StatusNotFound)
		return
	}
	// Preserve the in-force scenario parameters across the halt toggle.
	o := gen.Override()
	o.Halted = halted
	applied := gen.ApplyOverride(o)
	slog.Info("halt state changed", "instrument", instrumentID, "halted", halted)
	writeJSON(w, http.StatusOK, applied)
}

// --- Helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrUnknownInstrument),
		errors.Is(err, match.ErrUnknownOrder),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, match.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, match.ErrInstrumentHalted),
		errors.Is(err, match.ErrOrderNotCancelable),
		errors.Is(err, match.ErrQuoteStale),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrHalted), errors.Is(err, store.ErrAppendFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
