// Package dealer implements the multi-dealer OTC quote simulator. Each
// dealer derives its bid/ask from the shared mid plus an independent,
// persistent skew/spread random walk. Every dealer's own bid stays below
// its ask; cross-dealer consistency is deliberately not enforced, so
// arbitrage between dealers is available to users by design.
package dealer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/model"
)

var (
	// ErrInvalidConfig is returned for out-of-range panel settings.
	ErrInvalidConfig = errors.New("dealer: invalid panel config")

	// ErrUnknownDealer is returned when a quote is requested for a dealer
	// not on the panel.
	ErrUnknownDealer = errors.New("dealer: unknown dealer")
)

const priceScale int32 = 8

// Config controls one instrument's dealer panel.
type Config struct {
	Dealers    []string // dealer ids; at least one
	BaseSpread float64  // starting bid/ask spread
	SpreadVol  float64  // stddev of the per-tick spread walk; 0 freezes spreads
	SkewVol    float64  // stddev of the per-tick mid skew walk; 0 centers quotes
	MinSpread  float64  // floor keeping bid strictly below ask
}

func (c Config) validate() error {
	if len(c.Dealers) == 0 {
		return fmt.Errorf("%w: at least one dealer required", ErrInvalidConfig)
	}
	if c.BaseSpread <= 0 {
		return fmt.Errorf("%w: base spread must be positive", ErrInvalidConfig)
	}
	if c.SpreadVol < 0 || c.SkewVol < 0 {
		return fmt.Errorf("%w: volatilities must be non-negative", ErrInvalidConfig)
	}
	if c.MinSpread <= 0 {
		return fmt.Errorf("%w: min spread must be positive", ErrInvalidConfig)
	}
	return nil
}

// dealerState is one dealer's persistent walk state. Owned exclusively by
// the panel; never shared.
type dealerState struct {
	id     string
	skew   float64
	spread float64
}

// Panel simulates N dealers quoting one OTC instrument.
type Panel struct {
	mu           sync.Mutex
	instrumentID string
	cfg          Config
	rng          *rand.Rand
	dealers      []*dealerState
	quotes       map[string]model.DealerQuote
}

// NewPanel creates a dealer panel with its own seeded stream.
func NewPanel(instrumentID string, cfg Config, seed uint64) (*Panel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Panel{
		instrumentID: instrumentID,
		cfg:          cfg,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		quotes:       make(map[string]model.DealerQuote),
	}
	for _, id := range cfg.Dealers {
		p.dealers = append(p.dealers, &dealerState{id: id, spread: cfg.BaseSpread})
	}
	return p, nil
}

// OnTick advances every dealer's walk from the shared mid and returns the
// refreshed quotes in panel order.
func (p *Panel) OnTick(mid decimal.Decimal, ts time.Time) []model.DealerQuote {
	p.mu.Lock()
	defer p.mu.Unlock()

	midF := mid.InexactFloat64()
	out := make([]model.DealerQuote, 0, len(p.dealers))
	for _, d := range p.dealers {
		if p.cfg.SkewVol > 0 {
			d.skew += p.rng.NormFloat64() * p.cfg.SkewVol
		}
		if p.cfg.SpreadVol > 0 {
			d.spread += p.rng.NormFloat64() * p.cfg.SpreadVol
		}
		if d.spread < p.cfg.MinSpread {
			d.spread = p.cfg.MinSpread
		}

		center := midF + d.skew
		half := d.spread / 2
		q := model.DealerQuote{
			InstrumentID: p.instrumentID,
			DealerID:     d.id,
			Bid:          decimal.NewFromFloat(center - half).Round(priceScale),
			Ask:          decimal.NewFromFloat(center + half).Round(priceScale),
			Timestamp:    ts.UTC(),
		}
		p.quotes[d.id] = q
		out = append(out, q)
	}
	return out
}

// Quote returns the named dealer's current quote.
func (p *Panel) Quote(dealerID string) (model.DealerQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotes[dealerID]
	if !ok {
		return model.DealerQuote{}, fmt.Errorf("%w: %s", ErrUnknownDealer, dealerID)
	}
	return q, nil
}

// Quotes returns the current quote per dealer in panel order. Dealers that
// have not quoted yet are omitted.
func (p *Panel) Quotes() []model.DealerQuote {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.DealerQuote, 0, len(p.dealers))
	for _, d := range p.dealers {
		if q, ok := p.quotes[d.id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Dealers returns the panel's dealer ids.
func (p *Panel) Dealers() []string {
	return append([]string(nil), p.cfg.Dealers...)
}
