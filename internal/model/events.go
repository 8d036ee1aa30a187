package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the event schema this build writes and the highest
// version it accepts. Consumers ignore unknown payload fields, so older
// builds survive additive changes; a version bump signals an incompatible
// change and such events are dropped at ingress.
const SchemaVersion = 1

// EventType discriminates envelope payloads.
type EventType string

const (
	EventTick        EventType = "tick"
	EventOrderBook   EventType = "order_book"
	EventDealerQuote EventType = "dealer_quote"
	EventOrderReq    EventType = "order_request"
	EventExecution   EventType = "execution"
	EventPortfolio   EventType = "portfolio_snapshot"
)

// Topic names on the event bus.
const (
	TopicMarket     = "market"
	TopicOrders     = "orders"
	TopicExecutions = "executions"
	TopicRisk       = "risk"
)

// Envelope wraps every event crossing the bus. PartitionKey is the
// instrument id for market events and the user id for execution/risk
// events; ordering is guaranteed only per key.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Type          EventType       `json:"type"`
	PartitionKey  string          `json:"partition_key"`
	Seq           uint64          `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a versioned envelope.
func NewEnvelope(t EventType, partitionKey string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", t, err)
	}
	return Envelope{
		SchemaVersion: SchemaVersion,
		Type:          t,
		PartitionKey:  partitionKey,
		Timestamp:     ts.UTC(),
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload into v after checking the schema version.
// Unknown payload fields are ignored for forward compatibility; a version
// beyond SchemaVersion yields ErrSchemaVersion.
func (e Envelope) Decode(v any) error {
	if e.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: got %d, max %d", ErrSchemaVersion, e.SchemaVersion, SchemaVersion)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return nil
}

// TickEvent is the market-topic payload for a simulated tick.
type TickEvent struct {
	InstrumentID string          `json:"instrument_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Mid          decimal.Decimal `json:"mid"`
	DealerID     string          `json:"dealer_id,omitempty"`
	Metadata     TickMetadata    `json:"metadata"`
}

// Tick converts the event payload back into the domain type.
func (e TickEvent) Tick() Tick {
	return Tick{
		InstrumentID: e.InstrumentID,
		Timestamp:    e.Timestamp,
		Bid:          e.Bid,
		Ask:          e.Ask,
		Mid:          e.Mid,
		DealerID:     e.DealerID,
		Metadata:     e.Metadata,
	}
}

// TickEventFrom builds the payload for a tick.
func TickEventFrom(t Tick) TickEvent {
	return TickEvent{
		InstrumentID: t.InstrumentID,
		Timestamp:    t.Timestamp,
		Bid:          t.Bid,
		Ask:          t.Ask,
		Mid:          t.Mid,
		DealerID:     t.DealerID,
		Metadata:     t.Metadata,
	}
}

// PriceLevel is one side-tagged level of an OrderBookEvent.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  Side            `json:"side"`
}

// OrderBookEvent is the market-topic payload for a published book snapshot.
// Levels carry bids (descending) followed by asks (ascending).
type OrderBookEvent struct {
	InstrumentID string       `json:"instrument_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Levels       []PriceLevel `json:"levels"`
}

// OrderBookEventFrom flattens a snapshot into the wire shape.
func OrderBookEventFrom(s OrderBookSnapshot) OrderBookEvent {
	levels := make([]PriceLevel, 0, len(s.Bids)+len(s.Asks))
	for _, l := range s.Bids {
		levels = append(levels, PriceLevel{Price: l.Price, Size: l.Size, Side: SideBuy})
	}
	for _, l := range s.Asks {
		levels = append(levels, PriceLevel{Price: l.Price, Size: l.Size, Side: SideSell})
	}
	return OrderBookEvent{InstrumentID: s.InstrumentID, Timestamp: s.Timestamp, Levels: levels}
}

// DealerQuoteEvent is the market-topic payload for one dealer's quote.
type DealerQuoteEvent struct {
	InstrumentID string          `json:"instrument_id"`
	DealerID     string          `json:"dealer_id"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Timestamp    time.Time       `json:"timestamp"`
}

// OrderRequestEvent is the orders-topic payload for asynchronous order
// submission.
type OrderRequestEvent struct {
	OrderID      string          `json:"order_id"`
	UserID       string          `json:"user_id"`
	InstrumentID string          `json:"instrument_id"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"qty"`
	OrderType    OrderType       `json:"order_type"`
	LimitPrice   decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce  TimeInForce     `json:"time_in_force,omitempty"`
	DealerID     string          `json:"dealer_id,omitempty"` // OTC hit/lift target
}

// ExecutionEvent is the executions-topic payload for one trade.
type ExecutionEvent struct {
	TradeID              string          `json:"trade_id"`
	OrderID              string          `json:"order_id"`
	UserID               string          `json:"user_id"`
	InstrumentID         string          `json:"instrument_id"`
	Side                 Side            `json:"side"`
	QtyFilled            decimal.Decimal `json:"qty_filled"`
	Price                decimal.Decimal `json:"price"`
	Timestamp            time.Time       `json:"timestamp"`
	ResultingOrderStatus OrderStatus     `json:"resulting_order_status"`
}

// PortfolioSnapshotEvent is the risk-topic payload.
type PortfolioSnapshotEvent struct {
	UserID        string                     `json:"user_id"`
	Timestamp     time.Time                  `json:"timestamp"`
	NAV           decimal.Decimal            `json:"nav"`
	Cash          decimal.Decimal            `json:"cash_balance"`
	UnrealizedPnL decimal.Decimal            `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal            `json:"realized_pnl"`
	DeltaExposure map[string]decimal.Decimal `json:"delta_exposure"`
	DV01Exposure  map[string]decimal.Decimal `json:"dv01_exposure"`
}

// PortfolioEventFrom builds the payload for a snapshot.
func PortfolioEventFrom(s PortfolioSnapshot) PortfolioSnapshotEvent {
	return PortfolioSnapshotEvent{
		UserID:        s.UserID,
		Timestamp:     s.Timestamp,
		NAV:           s.NAV,
		Cash:          s.Cash,
		UnrealizedPnL: s.UnrealizedPnL,
		RealizedPnL:   s.RealizedPnL,
		DeltaExposure: s.DeltaExposure,
		DV01Exposure:  s.DV01Exposure,
	}
}

// Snapshot converts the event payload back into the domain type.
func (e PortfolioSnapshotEvent) Snapshot() PortfolioSnapshot {
	return PortfolioSnapshot{
		UserID:        e.UserID,
		Timestamp:     e.Timestamp,
		NAV:           e.NAV,
		Cash:          e.Cash,
		UnrealizedPnL: e.UnrealizedPnL,
		RealizedPnL:   e.RealizedPnL,
		DeltaExposure: e.DeltaExposure,
		DV01Exposure:  e.DV01Exposure,
	}
}
