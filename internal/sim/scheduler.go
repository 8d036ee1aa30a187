package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/model"
)

// priceScale is the number of decimal places kept when converting float64
// simulation output to decimal at the emission boundary.
const priceScale int32 = 8

// MetadataFunc enriches tick metadata with instrument-specific context
// given the current mark.
type MetadataFunc func(mid float64) model.TickMetadata

// SwapCurveMetadata returns a metadata factory carrying swap curve context
// for rate-driven instruments.
func SwapCurveMetadata(tier model.LiquidityTier, tenor string, curve map[string]float64, dv01PerMillion float64) MetadataFunc {
	return func(_ float64) model.TickMetadata {
		return model.TickMetadata{
			LiquidityTier:  tier,
			Tenor:          tenor,
			Curve:          curve,
			DV01PerMillion: dv01PerMillion,
		}
	}
}

// FutureContractMetadata returns a metadata factory for listed derivative
// contracts; notional is recomputed from the live mark.
func FutureContractMetadata(tier model.LiquidityTier, contractMonth string, multiplier decimal.Decimal) MetadataFunc {
	return func(mid float64) model.TickMetadata {
		mark := decimal.NewFromFloat(mid).Round(priceScale)
		return model.TickMetadata{
			LiquidityTier: tier,
			ContractMonth: contractMonth,
			Multiplier:    multiplier,
			Notional:      mark.Mul(multiplier),
		}
	}
}

// Feed binds one instrument to its generator and cadence. The scheduler
// owns all feed state; nothing outside the scheduler touches lastFire.
type Feed struct {
	Instrument model.Instrument
	Gen        *Generator
	Interval   time.Duration
	Regime     string // volatility regime label carried in metadata
	Metadata   MetadataFunc

	lastFire time.Time
	nextFire time.Time
}

// Sink receives every emitted tick. Implementations must not block the
// scheduler; slow consumers decouple through the event bus.
type Sink func(model.Tick)

// Scheduler maintains a per-instrument next-fire time and drives the
// generators at their configured cadences. Sub-second bursts are
// permitted and never coalesced: every fire produces exactly one tick.
type Scheduler struct {
	clock func() time.Time
	sink  Sink

	mu    sync.Mutex
	feeds map[string]*Feed
}

// NewScheduler creates a scheduler emitting to sink using the given clock.
// Pass time.Now for production.
func NewScheduler(sink Sink, clock func() time.Time) *Scheduler {
	return &Scheduler{
		clock: clock,
		sink:  sink,
		feeds: make(map[string]*Feed),
	}
}

// AddFeed registers a feed. The first fire happens one interval after
// registration is pumped.
func (s *Scheduler) AddFeed(f *Feed) {
	if f.Interval <= 0 {
		f.Interval = f.Instrument.Tier.DefaultInterval()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[f.Instrument.ID] = f
}

// Generator returns the generator owning instrumentID, for scenario
// overrides through the management surface.
func (s *Scheduler) Generator(instrumentID string) (*Generator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[instrumentID]
	if !ok {
		return nil, false
	}
	return f.Gen, true
}

// SetInterval overrides a feed's cadence, e.g. from a scenario preset.
func (s *Scheduler) SetInterval(instrumentID string, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[instrumentID]
	if !ok {
		return false
	}
	f.Interval = interval
	return true
}

// Instruments returns the configured instruments in registration order.
func (s *Scheduler) Instruments() []model.Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Instrument, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f.Instrument)
	}
	return out
}

// PumpOnce fires every feed whose next-fire time has arrived and returns
// the emitted ticks. dt is measured from the wall/sim clock delta since
// the feed's last fire, not a fixed constant.
func (s *Scheduler) PumpOnce(now time.Time) []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ticks []model.Tick
	for _, f := range s.feeds {
		if !f.nextFire.IsZero() && now.Before(f.nextFire) {
			continue
		}

		dt := f.Interval.Seconds()
		if !f.lastFire.IsZero() {
			dt = now.Sub(f.lastFire).Seconds()
		}
		if dt <= 0 {
			dt = f.Interval.Seconds()
		}

		level, halted := f.Gen.Step(dt)
		ticks = append(ticks, s.buildTick(f, level, halted, now))

		f.lastFire = now
		f.nextFire = now.Add(f.Interval)
	}
	return ticks
}

// buildTick emits bid/ask around the new mid using the instrument's
// configured spread model (half a tick either side).
func (s *Scheduler) buildTick(f *Feed, level float64, halted bool, now time.Time) model.Tick {
	mid := decimal.NewFromFloat(level).Round(priceScale)
	half := f.Instrument.TickSize.Div(decimal.NewFromInt(2))

	var meta model.TickMetadata
	if f.Metadata != nil {
		meta = f.Metadata(level)
	}
	meta.VolatilityRegime = f.Regime
	if meta.LiquidityTier == "" {
		meta.LiquidityTier = f.Instrument.Tier
	}
	meta.Halted = halted

	return model.Tick{
		InstrumentID: f.Instrument.ID,
		Timestamp:    now.UTC(),
		Bid:          mid.Sub(half),
		Ask:          mid.Add(half),
		Mid:          mid,
		Metadata:     meta,
	}
}

// earliestFire returns the soonest next-fire time across feeds, or zero
// if no feeds are registered.
func (s *Scheduler) earliestFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, f := range s.feeds {
		if earliest.IsZero() || f.nextFire.Before(earliest) {
			earliest = f.nextFire
		}
	}
	return earliest
}

// Run drives the scheduler until the context is cancelled. Each pump
// fires only due feeds; the loop sleeps until the earliest next fire.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("tick scheduler started", "feeds", len(s.feeds))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("tick scheduler stopped")
			return
		case <-timer.C:
		}

		now := s.clock()
		for _, tick := range s.PumpOnce(now) {
			s.sink(tick)
		}

		next := s.earliestFire()
		wait := 10 * time.Millisecond
		if !next.IsZero() {
			if d := next.Sub(s.clock()); d > wait {
				wait = d
			}
		}
		timer.Reset(wait)
	}
}
