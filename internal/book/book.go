// Package book implements the synthetic order book simulator: ladder-style
// L2 depth regenerated around each tick's mid, blended with resting user
// limit orders at price-time priority. User orders rank strictly ahead of
// synthetic liquidity at the same price.
package book

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/model"
)

var (
	// ErrInvalidConfig is returned for out-of-range depth settings.
	ErrInvalidConfig = errors.New("book: invalid depth config")

	// ErrUnknownOrder is returned when depleting a resting order that is
	// not on the book.
	ErrUnknownOrder = errors.New("book: unknown resting order")

	// ErrInsufficientDepth is returned when a fill would deplete more
	// size than the book holds at a price level.
	ErrInsufficientDepth = errors.New("book: insufficient depth at level")
)

const priceScale int32 = 8

// Config controls synthetic ladder generation.
type Config struct {
	Levels     int             // depth levels per side
	TickSize   decimal.Decimal // price offset between levels
	BaseQty    decimal.Decimal // size at the top level
	QtyDecay   float64         // multiplicative decay per level, in (0, 1]
	PriceNoise float64         // stddev of per-level price jitter; 0 disables
}

func (c Config) validate() error {
	if c.Levels <= 0 {
		return fmt.Errorf("%w: levels must be positive", ErrInvalidConfig)
	}
	if c.TickSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: tick size must be positive", ErrInvalidConfig)
	}
	if c.BaseQty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: base quantity must be positive", ErrInvalidConfig)
	}
	if c.QtyDecay <= 0 || c.QtyDecay > 1 {
		return fmt.Errorf("%w: quantity decay must lie in (0, 1]", ErrInvalidConfig)
	}
	if c.PriceNoise < 0 {
		return fmt.Errorf("%w: price noise must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// RestingOrder is a user limit order working on the book.
type RestingOrder struct {
	OrderID   string
	UserID    string
	Side      model.Side
	Price     decimal.Decimal
	Remaining decimal.Decimal
	seq       uint64 // time priority within a price level
}

// Entry is one unit of consumable liquidity in matching priority order.
// Synthetic entries have an empty OrderID.
type Entry struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
	UserID  string
}

// Synthetic reports whether the entry is venue liquidity rather than a
// resting user order.
func (e Entry) Synthetic() bool { return e.OrderID == "" }

type synthLevel struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// Simulator owns one instrument's book state. All mutation happens under
// its lock; consumers only ever see immutable snapshots.
type Simulator struct {
	mu           sync.Mutex
	instrumentID string
	cfg          Config
	rng          *rand.Rand

	mid       decimal.Decimal
	ts        time.Time
	synthBids []synthLevel // descending price
	synthAsks []synthLevel // ascending price
	resting   []*RestingOrder
	seq       uint64
}

// NewSimulator creates a book simulator with its own seeded noise stream.
func NewSimulator(instrumentID string, cfg Config, seed uint64) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Simulator{
		instrumentID: instrumentID,
		cfg:          cfg,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// OnTick regenerates the synthetic ladder around the new mid, replenishing
// liquidity, and returns the merged snapshot.
func (s *Simulator) OnTick(mid decimal.Decimal, ts time.Time) model.OrderBookSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mid = mid
	s.ts = ts
	s.synthBids = s.synthBids[:0]
	s.synthAsks = s.synthAsks[:0]

	halfTick := s.cfg.TickSize.Div(decimal.NewFromInt(2))
	for level := 0; level < s.cfg.Levels; level++ {
		offset := s.cfg.TickSize.Mul(decimal.NewFromInt(int64(level + 1)))
		if s.cfg.PriceNoise > 0 {
			noise := decimal.NewFromFloat(s.rng.NormFloat64() * s.cfg.PriceNoise).Round(priceScale)
			offset = offset.Add(noise)
			// Jitter must never cross the ladder over the mid.
			if offset.LessThan(halfTick) {
				offset = halfTick
			}
		}

		size := s.cfg.BaseQty.Mul(decimal.NewFromFloat(math.Pow(s.cfg.QtyDecay, float64(level)))).Round(priceScale)
		s.synthBids = append(s.synthBids, synthLevel{price: mid.Sub(offset).Round(priceScale), size: size})
		s.synthAsks = append(s.synthAsks, synthLevel{price: mid.Add(offset).Round(priceScale), size: size})
	}

	return s.snapshotLocked()
}

// Rest places a user limit order on the book at its limit price. Later
// calls at the same price rank behind earlier ones.
func (s *Simulator) Rest(orderID, userID string, side model.Side, price, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.resting = append(s.resting, &RestingOrder{
		OrderID:   orderID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Remaining: qty,
		seq:       s.seq,
	})
}

// Remove takes a resting order off the book, e.g. on cancel or expiry.
func (s *Simulator) Remove(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ro := range s.resting {
		if ro.OrderID == orderID {
			s.resting = append(s.resting[:i], s.resting[i+1:]...)
			return true
		}
	}
	return false
}

// Resting returns a copy of the working user orders in time priority.
func (s *Simulator) Resting() []RestingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RestingOrder, 0, len(s.resting))
	for _, ro := range s.resting {
		out = append(out, *ro)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Depth returns the consumable liquidity on the given side in matching
// priority: best price first, user orders ahead of synthetic at the same
// price, earlier user orders first within a price.
func (s *Simulator) Depth(side model.Side) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depthLocked(side)
}

func (s *Simulator) depthLocked(side model.Side) []Entry {
	var entries []Entry
	for _, ro := range s.resting {
		if ro.Side == side && ro.Remaining.IsPositive() {
			entries = append(entries, Entry{
				Price:   ro.Price,
				Size:    ro.Remaining,
				OrderID: ro.OrderID,
				UserID:  ro.UserID,
			})
		}
	}
	synth := s.synthAsks
	if side == model.SideBuy {
		synth = s.synthBids
	}
	for _, lv := range synth {
		if lv.size.IsPositive() {
			entries = append(entries, Entry{Price: lv.price, Size: lv.size})
		}
	}

	userSeq := func(e Entry) uint64 {
		for _, ro := range s.resting {
			if ro.OrderID == e.OrderID {
				return ro.seq
			}
		}
		return 0
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Price.Equal(b.Price) {
			if side == model.SideBuy {
				return a.Price.GreaterThan(b.Price) // bids: best = highest
			}
			return a.Price.LessThan(b.Price) // asks: best = lowest
		}
		// Same price: user orders ahead of synthetic, then time priority.
		if a.Synthetic() != b.Synthetic() {
			return !a.Synthetic()
		}
		if !a.Synthetic() {
			return userSeq(a) < userSeq(b)
		}
		return false
	})
	return entries
}

// ApplyFill depletes liquidity consumed by a match. For a resting user
// order, orderID names it; an empty orderID depletes synthetic size at the
// given price. The caller serializes matching per instrument and publishes
// the next snapshot after the whole match commits, so no partial view is
// observable.
func (s *Simulator) ApplyFill(side model.Side, price, qty decimal.Decimal, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if orderID != "" {
		for i, ro := range s.resting {
			if ro.OrderID != orderID {
				continue
			}
			if ro.Remaining.LessThan(qty) {
				return fmt.Errorf("%w: order %s has %s, need %s", ErrInsufficientDepth, orderID, ro.Remaining, qty)
			}
			ro.Remaining = ro.Remaining.Sub(qty)
			if ro.Remaining.IsZero() {
				s.resting = append(s.resting[:i], s.resting[i+1:]...)
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	synth := s.synthAsks
	if side == model.SideBuy {
		synth = s.synthBids
	}
	for i := range synth {
		if synth[i].price.Equal(price) {
			if synth[i].size.LessThan(qty) {
				return fmt.Errorf("%w: level %s has %s, need %s", ErrInsufficientDepth, price, synth[i].size, qty)
			}
			synth[i].size = synth[i].size.Sub(qty)
			return nil
		}
	}
	return fmt.Errorf("%w: no synthetic level at %s", ErrInsufficientDepth, price)
}

// Snapshot returns the immutable merged view of the book.
func (s *Simulator) Snapshot() model.OrderBookSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() model.OrderBookSnapshot {
	type agg struct {
		price decimal.Decimal
		size  decimal.Decimal
	}
	merge := func(side model.Side, synth []synthLevel) []model.BookLevel {
		byPrice := make(map[string]*agg)
		var order []string
		add := func(price, size decimal.Decimal) {
			if !size.IsPositive() {
				return
			}
			key := price.String()
			if a, ok := byPrice[key]; ok {
				a.size = a.size.Add(size)
				return
			}
			byPrice[key] = &agg{price: price, size: size}
			order = append(order, key)
		}
		for _, lv := range synth {
			add(lv.price, lv.size)
		}
		for _, ro := range s.resting {
			if ro.Side == side {
				add(ro.Price, ro.Remaining)
			}
		}

		levels := make([]model.BookLevel, 0, len(order))
		for _, key := range order {
			a := byPrice[key]
			levels = append(levels, model.BookLevel{Price: a.price, Size: a.size})
		}
		sort.Slice(levels, func(i, j int) bool {
			if side == model.SideBuy {
				return levels[i].Price.GreaterThan(levels[j].Price)
			}
			return levels[i].Price.LessThan(levels[j].Price)
		})
		return levels
	}

	return model.OrderBookSnapshot{
		InstrumentID: s.instrumentID,
		Timestamp:    s.ts,
		Bids:         merge(model.SideBuy, s.synthBids),
		Asks:         merge(model.SideSell, s.synthAsks),
	}
}

// Mid returns the mid of the last tick applied to the book.
func (s *Simulator) Mid() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mid
}
