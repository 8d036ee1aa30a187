// Package model defines the core domain types shared across the venue engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned for malformed or illegal order parameters.
	// Such orders are rejected synchronously and never enter matching.
	ErrValidation = errors.New("model: validation failed")

	// ErrSchemaVersion is returned when an event envelope carries a schema
	// version newer than this build understands. The event is dropped and
	// logged, never processed.
	ErrSchemaVersion = errors.New("model: unsupported schema version")
)

// AssetClass identifies how an instrument is priced and risk-bucketed.
type AssetClass string

const (
	AssetEquity AssetClass = "EQUITY"
	AssetOption AssetClass = "OPTION"
	AssetFuture AssetClass = "FUTURE"
	AssetBond   AssetClass = "BOND"
	AssetSwap   AssetClass = "SWAP"
)

// OTC reports whether the asset class trades against dealer quotes rather
// than a central order book.
func (c AssetClass) OTC() bool {
	return c == AssetBond || c == AssetSwap
}

// RateDriven reports whether the instrument's mark follows a mean-reverting
// rate process instead of geometric Brownian motion.
func (c AssetClass) RateDriven() bool {
	return c == AssetBond || c == AssetSwap
}

// LiquidityTier controls tick cadence and appears in tick metadata.
type LiquidityTier string

const (
	TierHigh   LiquidityTier = "HIGH"
	TierMedium LiquidityTier = "MEDIUM"
	TierLow    LiquidityTier = "LOW"
)

// DefaultInterval returns the baseline tick interval for a tier. Top-tier
// names burst below one second; everything else fires at 1s or slower.
func (t LiquidityTier) DefaultInterval() time.Duration {
	switch t {
	case TierHigh:
		return 200 * time.Millisecond // 5 Hz
	case TierLow:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// Instrument is immutable after creation; scenario overrides (volatility,
// drift, halt) are versioned records applied by the simulator, never
// mutations of this struct.
type Instrument struct {
	ID       string          `json:"id" db:"id"`
	Class    AssetClass      `json:"asset_class" db:"asset_class"`
	TickSize decimal.Decimal `json:"tick_size" db:"tick_size"`
	LotSize  decimal.Decimal `json:"lot_size" db:"lot_size"`
	Currency string          `json:"currency" db:"currency"`
	Tier     LiquidityTier   `json:"liquidity_tier" db:"liquidity_tier"`

	// Maturity is set for bonds, swaps, futures and options.
	Maturity *time.Time `json:"maturity,omitempty" db:"maturity"`

	// Underlier references the instrument this derivative maps to for
	// delta aggregation. Empty for instruments that are their own underlier.
	Underlier string `json:"underlier,omitempty" db:"underlier"`

	// OptionDelta is the per-unit sensitivity to the underlier. 1 for the
	// underlier itself; the option delta for derivatives.
	OptionDelta decimal.Decimal `json:"option_delta" db:"option_delta"`

	// ModifiedDuration drives DV01 for rate-driven instruments. Zero for
	// equity-like instruments.
	ModifiedDuration decimal.Decimal `json:"modified_duration" db:"modified_duration"`
}

// UnderlierID returns the delta aggregation key for this instrument.
func (i Instrument) UnderlierID() string {
	if i.Underlier != "" {
		return i.Underlier
	}
	return i.ID
}

// MaturityBucket maps the instrument's maturity into a DV01 curve bucket.
// Returns "" for instruments without rate risk.
func (i Instrument) MaturityBucket(now time.Time) string {
	if !i.Class.RateDriven() || i.Maturity == nil {
		return ""
	}
	years := i.Maturity.Sub(now).Hours() / (24 * 365.25)
	switch {
	case years <= 2:
		return "0-2Y"
	case years <= 5:
		return "2-5Y"
	case years <= 10:
		return "5-10Y"
	default:
		return "10Y+"
	}
}

// TickMetadata travels with every tick. The typed fields cover listed and
// OTC instruments; unknown fields from future producers are ignored.
type TickMetadata struct {
	VolatilityRegime string        `json:"volatility_regime"`
	LiquidityTier    LiquidityTier `json:"liquidity_tier"`
	Halted           bool          `json:"halted,omitempty"`

	// Rate instrument context.
	Tenor          string             `json:"tenor,omitempty"`
	Curve          map[string]float64 `json:"curve,omitempty"`
	DV01PerMillion float64            `json:"dv01_per_million,omitempty"`

	// Listed derivative context.
	ContractMonth string          `json:"contract_month,omitempty"`
	Multiplier    decimal.Decimal `json:"multiplier,omitempty"`
	Notional      decimal.Decimal `json:"notional,omitempty"`
}

// Tick is immutable once emitted. Timestamps are monotonically increasing
// per instrument.
type Tick struct {
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	Bid          decimal.Decimal `json:"bid" db:"bid"`
	Ask          decimal.Decimal `json:"ask" db:"ask"`
	Mid          decimal.Decimal `json:"mid" db:"mid"`
	DealerID     string          `json:"dealer_id,omitempty" db:"dealer_id"` // empty for listed
	Metadata     TickMetadata    `json:"metadata"`
}

// Side is the direction of an order or book level.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// BookLevel is one aggregated price level of an order book snapshot.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBookSnapshot is an immutable view of one instrument's L2 depth:
// synthetic liquidity blended with resting user orders. Bids are sorted
// descending by price, asks ascending.
type OrderBookSnapshot struct {
	InstrumentID string      `json:"instrument_id" db:"instrument_id"`
	Timestamp    time.Time   `json:"timestamp" db:"timestamp"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
}

// BestBid returns the highest bid level, if any.
func (s OrderBookSnapshot) BestBid() (BookLevel, bool) {
	if len(s.Bids) == 0 {
		return BookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (s OrderBookSnapshot) BestAsk() (BookLevel, bool) {
	if len(s.Asks) == 0 {
		return BookLevel{}, false
	}
	return s.Asks[0], true
}

// DealerQuote is one dealer's two-way market in an OTC instrument.
// Each quote satisfies bid < ask; no cross-dealer invariant exists.
type DealerQuote struct {
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	DealerID     string          `json:"dealer_id" db:"dealer_id"`
	Bid          decimal.Decimal `json:"bid" db:"bid"`
	Ask          decimal.Decimal `json:"ask" db:"ask"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Mid returns the quote midpoint.
func (q DealerQuote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the order lifecycle state. Terminal states are FILLED
// and CANCELLED; transitions are performed only by the matching engine.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Cancelable reports whether a cancel request may still win the race
// against a concurrent fill.
func (s OrderStatus) Cancelable() bool {
	return s == StatusNew || s == StatusPartial
}

// TimeInForce controls how long an unfilled order remains working.
type TimeInForce string

const (
	// TIFGTC rests until filled or cancelled.
	TIFGTC TimeInForce = "GTC"
	// TIFIOC fills what it can immediately; the remainder is cancelled.
	TIFIOC TimeInForce = "IOC"
	// TIFDay expires at the next UTC midnight via a scheduled sweep.
	TIFDay TimeInForce = "DAY"
)

// Order is mutated only by the matching engine, one transition at a time.
// Version is a per-order sequence token; every committed mutation
// increments it, rejecting stale concurrent writers.
type Order struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Side         Side            `json:"side" db:"side"`
	Type         OrderType       `json:"order_type" db:"order_type"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQty    decimal.Decimal `json:"filled_qty" db:"filled_qty"`
	LimitPrice   decimal.Decimal `json:"limit_price,omitempty" db:"limit_price"` // zero for market orders
	AvgPrice     decimal.Decimal `json:"avg_price" db:"avg_price"`
	Status       OrderStatus     `json:"status" db:"status"`
	TIF          TimeInForce     `json:"time_in_force" db:"time_in_force"`
	Version      int64           `json:"version" db:"version"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Trade is an immutable execution record: append-only, never mutated.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	OrderID      string          `json:"order_id" db:"order_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Side         Side            `json:"side" db:"side"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Notional returns quantity * price.
func (t Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Account holds a user's cash. Invariant: Cash >= 0 unless MarginAllowed,
// enforced by the ledger before any fill commits.
type Account struct {
	UserID        string          `json:"user_id" db:"user_id"`
	Cash          decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	Currency      string          `json:"currency" db:"currency"`
	MarginAllowed bool            `json:"margin_allowed" db:"margin_allowed"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is a user's signed holding in one instrument. Mutated only by
// the ledger as a side effect of a committed fill.
type Position struct {
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"` // signed: long > 0, short < 0
	AvgCost      decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// PortfolioSnapshot is produced by the risk aggregator. One logical writer
// per user at a time.
type PortfolioSnapshot struct {
	UserID        string                     `json:"user_id" db:"user_id"`
	Timestamp     time.Time                  `json:"timestamp" db:"timestamp"`
	NAV           decimal.Decimal            `json:"nav" db:"nav"`
	Cash          decimal.Decimal            `json:"cash_balance" db:"cash_balance"`
	UnrealizedPnL decimal.Decimal            `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal            `json:"realized_pnl" db:"realized_pnl"`
	DeltaExposure map[string]decimal.Decimal `json:"delta_exposure"` // underlier → qty-weighted delta
	DV01Exposure  map[string]decimal.Decimal `json:"dv01_exposure"`  // curve bucket → dollar DV01
}
