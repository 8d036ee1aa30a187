// Package match implements the matching engine. Listed instruments match
// against the synthetic book blended with resting user orders; OTC
// instruments fill against a named dealer's quote. All matching for one
// instrument is serialized, and every fill settles through the ledger
// atomically before any book or order state mutates.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/book"
	"github.com/paperdesk/venue-engine/internal/bus"
	"github.com/paperdesk/venue-engine/internal/dealer"
	"github.com/paperdesk/venue-engine/internal/ledger"
	"github.com/paperdesk/venue-engine/internal/metrics"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/store"
)

var (
	// ErrUnknownInstrument is returned for orders against instruments the
	// engine does not trade.
	ErrUnknownInstrument = errors.New("match: unknown instrument")

	// ErrInstrumentHalted is returned while an instrument is halted by a
	// scenario override. Resting orders are preserved, not matched.
	ErrInstrumentHalted = errors.New("match: instrument halted")

	// ErrQuoteStale is returned when an OTC hit/lift references a dealer
	// quote older than the freshness window.
	ErrQuoteStale = errors.New("match: dealer quote stale")

	// ErrOrderNotCancelable is returned when a cancel arrives after the
	// order reached a terminal state. The race resolves one way, never both.
	ErrOrderNotCancelable = errors.New("match: order not cancelable")

	// ErrUnauthorized is returned when a user cancels an order they do not own.
	ErrUnauthorized = errors.New("match: order owned by another user")

	// ErrUnknownOrder is returned for lookups and cancels of unknown order ids.
	ErrUnknownOrder = errors.New("match: unknown order")
)

// DefaultQuoteFreshness bounds how old a dealer quote may be when hit.
const DefaultQuoteFreshness = 5 * time.Second

// instrumentState is one instrument's matching context. Exactly one of
// book/dealers is set. Its mutex serializes all matching, tick application
// and cancels for the instrument.
type instrumentState struct {
	mu      sync.Mutex
	inst    model.Instrument
	book    *book.Simulator
	dealers *dealer.Panel
	halted  bool
	orders  map[string]*model.Order
}

// Engine routes orders to per-instrument matchers and applies market data.
type Engine struct {
	ledger    *ledger.Ledger
	store     store.Store
	bus       *bus.Bus
	clock     func() time.Time
	freshness time.Duration

	mu          sync.RWMutex
	instruments map[string]*instrumentState
	orderIndex  map[string]string // order id → instrument id
}

// NewEngine creates a matching engine. Pass time.Now for clock in
// production; freshness <= 0 uses DefaultQuoteFreshness.
func NewEngine(led *ledger.Ledger, st store.Store, b *bus.Bus, freshness time.Duration, clock func() time.Time) *Engine {
	if freshness <= 0 {
		freshness = DefaultQuoteFreshness
	}
	return &Engine{
		ledger:      led,
		store:       st,
		bus:         b,
		clock:       clock,
		freshness:   freshness,
		instruments: make(map[string]*instrumentState),
		orderIndex:  make(map[string]string),
	}
}

// RegisterListed adds an order-book instrument to the engine.
func (e *Engine) RegisterListed(inst model.Instrument, bk *book.Simulator) error {
	if inst.Class.OTC() {
		return fmt.Errorf("%w: %s is OTC, needs a dealer panel", model.ErrValidation, inst.ID)
	}
	return e.register(&instrumentState{inst: inst, book: bk, orders: make(map[string]*model.Order)})
}

// RegisterOTC adds a dealer-quoted instrument to the engine.
func (e *Engine) RegisterOTC(inst model.Instrument, panel *dealer.Panel) error {
	if !inst.Class.OTC() {
		return fmt.Errorf("%w: %s is listed, needs an order book", model.ErrValidation, inst.ID)
	}
	return e.register(&instrumentState{inst: inst, dealers: panel, orders: make(map[string]*model.Order)})
}

func (e *Engine) register(ist *instrumentState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.instruments[ist.inst.ID]; ok {
		return fmt.Errorf("%w: instrument %s already registered", model.ErrValidation, ist.inst.ID)
	}
	e.instruments[ist.inst.ID] = ist
	return nil
}

func (e *Engine) state(instrumentID string) (*instrumentState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ist, ok := e.instruments[instrumentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	return ist, nil
}

// Instruments returns the registered instruments sorted by id.
func (e *Engine) Instruments() []model.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Instrument, 0, len(e.instruments))
	for _, ist := range e.instruments {
		out = append(out, ist.inst)
	}
	sortInstruments(out)
	return out
}

// Instrument returns one registered instrument.
func (e *Engine) Instrument(instrumentID string) (model.Instrument, error) {
	ist, err := e.state(instrumentID)
	if err != nil {
		return model.Instrument{}, err
	}
	return ist.inst, nil
}

// BookSnapshot returns the current merged book for a listed instrument.
func (e *Engine) BookSnapshot(instrumentID string) (model.OrderBookSnapshot, error) {
	ist, err := e.state(instrumentID)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	if ist.book == nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("%w: %s has no order book", model.ErrValidation, instrumentID)
	}
	return ist.book.Snapshot(), nil
}

// DealerQuotes returns the current dealer panel quotes for an OTC instrument.
func (e *Engine) DealerQuotes(instrumentID string) ([]model.DealerQuote, error) {
	ist, err := e.state(instrumentID)
	if err != nil {
		return nil, err
	}
	if ist.dealers == nil {
		return nil, fmt.Errorf("%w: %s has no dealer panel", model.ErrValidation, instrumentID)
	}
	return ist.dealers.Quotes(), nil
}

// Order returns a copy of an order in any state.
func (e *Engine) Order(orderID string) (model.Order, error) {
	e.mu.RLock()
	instrumentID, ok := e.orderIndex[orderID]
	e.mu.RUnlock()
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	ist, err := e.state(instrumentID)
	if err != nil {
		return model.Order{}, err
	}
	ist.mu.Lock()
	defer ist.mu.Unlock()
	o, ok := ist.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return *o, nil
}

// --- Submission ---

// Submit validates and matches one order request synchronously. Listed
// instruments route market and limit orders through the book; OTC requests
// hit or lift the named dealer's quote. The returned order reflects the
// final post-match state.
func (e *Engine) Submit(ctx context.Context, req model.OrderRequestEvent) (model.Order, error) {
	ist, err := e.state(req.InstrumentID)
	if err != nil {
		return model.Order{}, e.reject(req, err)
	}
	if err := validateRequest(req, ist.inst); err != nil {
		return model.Order{}, e.reject(req, err)
	}

	ist.mu.Lock()
	defer ist.mu.Unlock()
	if ist.halted {
		return model.Order{}, e.reject(req, fmt.Errorf("%w: %s", ErrInstrumentHalted, req.InstrumentID))
	}

	o := e.newOrder(req)
	var matchErr error
	if ist.inst.Class.OTC() {
		matchErr = e.hitLiftLocked(ctx, ist, o, req.DealerID)
	} else {
		switch o.Type {
		case model.OrderMarket:
			matchErr = e.marketLocked(ctx, ist, o)
		default:
			matchErr = e.limitLocked(ctx, ist, o)
		}
	}
	if matchErr != nil {
		return model.Order{}, e.reject(req, matchErr)
	}

	ist.orders[o.ID] = o
	e.mu.Lock()
	e.orderIndex[o.ID] = ist.inst.ID
	e.mu.Unlock()

	metrics.OrdersSubmitted.WithLabelValues(string(o.Type), string(o.Status)).Inc()
	if ist.book != nil {
		e.publishBookLocked(ctx, ist)
	}
	return *o, nil
}

func (e *Engine) reject(req model.OrderRequestEvent, err error) error {
	metrics.OrderRejections.WithLabelValues(rejectionReason(err)).Inc()
	slog.Info("order rejected",
		"instrument", req.InstrumentID, "user", req.UserID,
		"side", req.Side, "qty", req.Quantity, "err", err)
	return err
}

func (e *Engine) newOrder(req model.OrderRequestEvent) *model.Order {
	id := req.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = model.TIFGTC
	}
	typ := req.OrderType
	if typ == "" {
		typ = model.OrderMarket // OTC hit/lift requests omit the type
	}
	now := e.clock().UTC()
	return &model.Order{
		ID:           id,
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Type:         typ,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		Status:       model.StatusNew,
		TIF:          tif,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func validateRequest(req model.OrderRequestEvent, inst model.Instrument) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id required", model.ErrValidation)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", model.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if inst.LotSize.IsPositive() && !req.Quantity.Mod(inst.LotSize).IsZero() {
		return fmt.Errorf("%w: quantity %s is not a multiple of lot size %s",
			model.ErrValidation, req.Quantity, inst.LotSize)
	}

	if inst.Class.OTC() {
		if req.DealerID == "" {
			return fmt.Errorf("%w: OTC orders name a dealer", model.ErrValidation)
		}
		return nil
	}
	switch req.OrderType {
	case model.OrderMarket:
	case model.OrderLimit:
		if !req.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive", model.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: order type must be MARKET or LIMIT", model.ErrValidation)
	}
	return nil
}

// --- Listed matching ---

// consumption is one liquidity entry consumed by a match, with the
// execution price for the taker side.
type consumption struct {
	entry book.Entry
	qty   decimal.Decimal
	price decimal.Decimal
}

// planSweep walks opposite-side depth in priority order and plans fills
// until qty is exhausted or the limit stops the walk. A nil limit consumes
// everything available (market order). execPrice overrides the per-entry
// execution price when set (resting orders fill at their own limit).
func planSweep(bk *book.Simulator, takerSide model.Side, qty decimal.Decimal, limit, execPrice *decimal.Decimal) []consumption {
	var plan []consumption
	remaining := qty
	for _, entry := range bk.Depth(takerSide.Opposite()) {
		if !remaining.IsPositive() {
			break
		}
		if limit != nil {
			if takerSide == model.SideBuy && entry.Price.GreaterThan(*limit) {
				break
			}
			if takerSide == model.SideSell && entry.Price.LessThan(*limit) {
				break
			}
		}
		take := decimal.Min(remaining, entry.Size)
		price := entry.Price
		if execPrice != nil {
			price = *execPrice
		}
		plan = append(plan, consumption{entry: entry, qty: take, price: price})
		remaining = remaining.Sub(take)
	}
	return plan
}

// executeLocked settles a planned sweep: ledger first (all trades of the
// match atomically), then book depletion, order mutation and execution
// events. A ledger rejection leaves every order and the book untouched.
func (e *Engine) executeLocked(ctx context.Context, ist *instrumentState, taker *model.Order, plan []consumption) error {
	if len(plan) == 0 {
		return nil
	}
	now := e.clock().UTC()

	type fill struct {
		trade consumption
		t     model.Trade
		maker *model.Order
	}
	var (
		trades []model.Trade
		fills  []fill
	)
	for _, c := range plan {
		takerTrade := model.Trade{
			ID:           uuid.NewString(),
			OrderID:      taker.ID,
			UserID:       taker.UserID,
			InstrumentID: ist.inst.ID,
			Side:         taker.Side,
			Quantity:     c.qty,
			Price:        c.price,
			Timestamp:    now,
		}
		trades = append(trades, takerTrade)
		fills = append(fills, fill{trade: c, t: takerTrade})

		if !c.entry.Synthetic() {
			maker := ist.orders[c.entry.OrderID]
			makerTrade := model.Trade{
				ID:           uuid.NewString(),
				OrderID:      c.entry.OrderID,
				UserID:       c.entry.UserID,
				InstrumentID: ist.inst.ID,
				Side:         taker.Side.Opposite(),
				Quantity:     c.qty,
				Price:        c.price,
				Timestamp:    now,
			}
			trades = append(trades, makerTrade)
			fills = append(fills, fill{trade: c, t: makerTrade, maker: maker})
		}
	}

	if err := e.ledger.ApplyMatch(ctx, trades); err != nil {
		return err
	}

	liqSide := taker.Side.Opposite()
	for _, c := range plan {
		if err := ist.book.ApplyFill(liqSide, c.entry.Price, c.qty, c.entry.OrderID); err != nil {
			// The book is only touched under this lock, so depth planned
			// above cannot have moved.
			slog.Error("book depletion failed after ledger commit",
				"instrument", ist.inst.ID, "order", taker.ID, "err", err)
		}
	}

	for _, f := range fills {
		o := taker
		if f.maker != nil {
			o = f.maker
		}
		applyFillToOrder(o, f.t.Quantity, f.t.Price, now)
		metrics.FillsRecorded.Inc()
		e.publish(ctx, model.TopicExecutions, model.EventExecution, f.t.UserID, model.ExecutionEvent{
			TradeID:              f.t.ID,
			OrderID:              f.t.OrderID,
			UserID:               f.t.UserID,
			InstrumentID:         f.t.InstrumentID,
			Side:                 f.t.Side,
			QtyFilled:            f.t.Quantity,
			Price:                f.t.Price,
			Timestamp:            f.t.Timestamp,
			ResultingOrderStatus: o.Status,
		})
	}
	return nil
}

func applyFillToOrder(o *model.Order, qty, price decimal.Decimal, now time.Time) {
	prior := o.FilledQty.Mul(o.AvgPrice)
	o.FilledQty = o.FilledQty.Add(qty)
	o.AvgPrice = prior.Add(qty.Mul(price)).Div(o.FilledQty)
	if o.Remaining().IsPositive() {
		o.Status = model.StatusPartial
	} else {
		o.Status = model.StatusFilled
	}
	o.Version++
	o.UpdatedAt = now
}

func (e *Engine) marketLocked(ctx context.Context, ist *instrumentState, o *model.Order) error {
	plan := planSweep(ist.book, o.Side, o.Quantity, nil, nil)
	if err := e.executeLocked(ctx, ist, o, plan); err != nil {
		return err
	}
	// A market order never rests: any unfilled remainder is cancelled.
	if o.Remaining().IsPositive() {
		o.Status = model.StatusCancelled
		o.Version++
		o.UpdatedAt = e.clock().UTC()
	}
	return nil
}

func (e *Engine) limitLocked(ctx context.Context, ist *instrumentState, o *model.Order) error {
	limit := o.LimitPrice
	plan := planSweep(ist.book, o.Side, o.Quantity, &limit, nil)
	if err := e.executeLocked(ctx, ist, o, plan); err != nil {
		return err
	}
	if !o.Remaining().IsPositive() {
		return nil
	}
	if o.TIF == model.TIFIOC {
		o.Status = model.StatusCancelled
		o.Version++
		o.UpdatedAt = e.clock().UTC()
		return nil
	}
	ist.book.Rest(o.ID, o.UserID, o.Side, o.LimitPrice, o.Remaining())
	return nil
}

// --- OTC matching ---

func (e *Engine) hitLiftLocked(ctx context.Context, ist *instrumentState, o *model.Order, dealerID string) error {
	q, err := ist.dealers.Quote(dealerID)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	now := e.clock().UTC()
	if now.Sub(q.Timestamp) > e.freshness {
		return fmt.Errorf("%w: dealer %s quoted at %s", ErrQuoteStale, dealerID, q.Timestamp.Format(time.RFC3339))
	}

	// Lifting takes the dealer's offer; hitting takes its bid.
	price := q.Ask
	if o.Side == model.SideSell {
		price = q.Bid
	}
	trade := model.Trade{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		UserID:       o.UserID,
		InstrumentID: ist.inst.ID,
		Side:         o.Side,
		Quantity:     o.Quantity,
		Price:        price,
		Timestamp:    now,
	}
	if err := e.ledger.ApplyFill(ctx, trade); err != nil {
		return err
	}

	applyFillToOrder(o, trade.Quantity, trade.Price, now)
	metrics.FillsRecorded.Inc()
	e.publish(ctx, model.TopicExecutions, model.EventExecution, o.UserID, model.ExecutionEvent{
		TradeID:              trade.ID,
		OrderID:              o.ID,
		UserID:               o.UserID,
		InstrumentID:         ist.inst.ID,
		Side:                 o.Side,
		QtyFilled:            trade.Quantity,
		Price:                trade.Price,
		Timestamp:            now,
		ResultingOrderStatus: o.Status,
	})
	return nil
}

// --- Cancel ---

// Cancel transitions a working order to CANCELLED. The transition is
// serialized with matching for the instrument, so a cancel racing a fill
// resolves exactly one way: either the fill committed first and the cancel
// fails, or the cancel wins and the order never fills again.
func (e *Engine) Cancel(ctx context.Context, orderID, userID string) (model.Order, error) {
	e.mu.RLock()
	instrumentID, ok := e.orderIndex[orderID]
	e.mu.RUnlock()
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	ist, err := e.state(instrumentID)
	if err != nil {
		return model.Order{}, err
	}

	ist.mu.Lock()
	defer ist.mu.Unlock()
	o, ok := ist.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if o.UserID != userID {
		return model.Order{}, fmt.Errorf("%w: order %s", ErrUnauthorized, orderID)
	}
	if !o.Status.Cancelable() {
		return model.Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderNotCancelable, orderID, o.Status)
	}

	o.Status = model.StatusCancelled
	o.Version++
	o.UpdatedAt = e.clock().UTC()
	if ist.book != nil {
		ist.book.Remove(orderID)
		e.publishBookLocked(ctx, ist)
	}
	return *o, nil
}

// --- Market data ingress ---

// MarketHandler returns the market-topic consumer: ticks drive book
// regeneration, dealer quoting, resting-order sweeps and day-order expiry.
func (e *Engine) MarketHandler(ctx context.Context) func(model.Envelope) {
	return func(env model.Envelope) {
		if env.Type != model.EventTick {
			return
		}
		var ev model.TickEvent
		if err := env.Decode(&ev); err != nil {
			slog.Warn("dropping market event", "type", env.Type, "err", err)
			return
		}
		e.onTick(ctx, ev.Tick())
	}
}

// OrdersHandler returns the orders-topic consumer for asynchronous
// submission. Rejections are logged; there is no reply channel.
func (e *Engine) OrdersHandler(ctx context.Context) func(model.Envelope) {
	return func(env model.Envelope) {
		if env.Type != model.EventOrderReq {
			return
		}
		var req model.OrderRequestEvent
		if err := env.Decode(&req); err != nil {
			slog.Warn("dropping order request", "err", err)
			return
		}
		if _, err := e.Submit(ctx, req); err != nil {
			slog.Info("async order rejected", "order", req.OrderID, "err", err)
		}
	}
}

func (e *Engine) onTick(ctx context.Context, t model.Tick) {
	ist, err := e.state(t.InstrumentID)
	if err != nil {
		return
	}

	ist.mu.Lock()
	defer ist.mu.Unlock()
	ist.halted = t.Metadata.Halted
	if ist.halted {
		// Frozen market: no regeneration, no matching, orders preserved.
		return
	}

	if ist.book != nil {
		ist.book.OnTick(t.Mid, t.Timestamp)
		e.expireDayOrdersLocked(ist, t.Timestamp)
		e.sweepRestingLocked(ctx, ist)
		e.publishBookLocked(ctx, ist)
		return
	}

	for _, q := range ist.dealers.OnTick(t.Mid, t.Timestamp) {
		e.publish(ctx, model.TopicMarket, model.EventDealerQuote, q.InstrumentID, model.DealerQuoteEvent{
			InstrumentID: q.InstrumentID,
			DealerID:     q.DealerID,
			Bid:          q.Bid,
			Ask:          q.Ask,
			Timestamp:    q.Timestamp,
		})
	}
}

// sweepRestingLocked fills resting limit orders the new ladder crosses. A
// swept order executes at its own limit price, which the fresh liquidity
// at or through that price makes achievable.
func (e *Engine) sweepRestingLocked(ctx context.Context, ist *instrumentState) {
	for _, ro := range ist.book.Resting() {
		o, ok := ist.orders[ro.OrderID]
		if !ok || !o.Status.Cancelable() {
			continue
		}
		// Use the live order remainder: an earlier iteration of this sweep
		// may have partially filled this order as a maker.
		limit := o.LimitPrice
		plan := planSweep(ist.book, o.Side, o.Remaining(), &limit, &limit)
		if len(plan) == 0 {
			continue
		}
		if err := e.executeLocked(ctx, ist, o, plan); err != nil {
			slog.Warn("resting order sweep rejected", "order", o.ID, "err", err)
			continue
		}
		// Deplete the swept order's own remaining on the book.
		var total decimal.Decimal
		for _, c := range plan {
			total = total.Add(c.qty)
		}
		if err := ist.book.ApplyFill(o.Side, o.LimitPrice, total, o.ID); err != nil {
			slog.Error("swept order depletion failed", "order", o.ID, "err", err)
		}
	}
}

// expireDayOrdersLocked cancels resting DAY orders created before the
// current UTC day.
func (e *Engine) expireDayOrdersLocked(ist *instrumentState, now time.Time) {
	for _, ro := range ist.book.Resting() {
		o, ok := ist.orders[ro.OrderID]
		if !ok || o.TIF != model.TIFDay || !o.Status.Cancelable() {
			continue
		}
		y1, m1, d1 := o.CreatedAt.UTC().Date()
		y2, m2, d2 := now.UTC().Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			continue
		}
		o.Status = model.StatusCancelled
		o.Version++
		o.UpdatedAt = now.UTC()
		ist.book.Remove(o.ID)
		slog.Info("day order expired", "order", o.ID, "instrument", ist.inst.ID)
	}
}

// --- Publishing ---

func (e *Engine) publishBookLocked(ctx context.Context, ist *instrumentState) {
	snap := ist.book.Snapshot()
	e.publish(ctx, model.TopicMarket, model.EventOrderBook, snap.InstrumentID, model.OrderBookEventFrom(snap))
	if err := e.store.AppendOrderBook(ctx, snap); err != nil {
		slog.Warn("order book append failed", "instrument", snap.InstrumentID, "err", err)
	}
}

func (e *Engine) publish(_ context.Context, topic string, t model.EventType, key string, payload any) {
	env, err := model.NewEnvelope(t, key, e.clock().UTC(), payload)
	if err != nil {
		slog.Error("encode event failed", "type", t, "err", err)
		return
	}
	if _, err := e.bus.Publish(topic, env); err != nil {
		slog.Warn("publish failed", "topic", topic, "type", t, "err", err)
		return
	}
	metrics.BusPublished.WithLabelValues(topic).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "unknown_account"
	case errors.Is(err, ErrInstrumentHalted):
		return "halted"
	case errors.Is(err, ErrQuoteStale):
		return "stale_quote"
	case errors.Is(err, ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, store.ErrAppendFailed), errors.Is(err, ledger.ErrHalted):
		return "persistence"
	default:
		return "internal"
	}
}

func sortInstruments(list []model.Instrument) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
