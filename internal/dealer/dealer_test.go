package dealer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/dealer"
)

var ts = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func newPanel(t *testing.T, cfg dealer.Config, seed uint64) *dealer.Panel {
	t.Helper()
	p, err := dealer.NewPanel("UST-10Y", cfg, seed)
	if err != nil {
		t.Fatalf("new panel: %v", err)
	}
	return p
}

func defaultConfig() dealer.Config {
	return dealer.Config{
		Dealers:    []string{"DLR-A", "DLR-B", "DLR-C"},
		BaseSpread: 0.10,
		SpreadVol:  0.02,
		SkewVol:    0.03,
		MinSpread:  0.02,
	}
}

// --- Quote invariants ---

func TestOnTick_EveryDealerBidBelowAsk(t *testing.T) {
	p := newPanel(t, defaultConfig(), 1)
	mid := decimal.NewFromFloat(98.40)

	for i := 0; i < 500; i++ {
		for _, q := range p.OnTick(mid, ts.Add(time.Duration(i)*time.Second)) {
			if !q.Bid.LessThan(q.Ask) {
				t.Fatalf("tick %d dealer %s: bid %s >= ask %s", i, q.DealerID, q.Bid, q.Ask)
			}
		}
	}
}

func TestOnTick_SpreadFloorHolds(t *testing.T) {
	cfg := defaultConfig()
	cfg.SpreadVol = 0.5 // aggressive walk to push against the floor
	p := newPanel(t, cfg, 3)
	mid := decimal.NewFromFloat(100)
	floor := decimal.NewFromFloat(cfg.MinSpread).Sub(decimal.NewFromFloat(1e-9))

	for i := 0; i < 500; i++ {
		for _, q := range p.OnTick(mid, ts) {
			if q.Ask.Sub(q.Bid).LessThan(floor) {
				t.Fatalf("tick %d dealer %s: spread %s below floor", i, q.DealerID, q.Ask.Sub(q.Bid))
			}
		}
	}
}

func TestOnTick_DealersDiverge(t *testing.T) {
	p := newPanel(t, defaultConfig(), 5)
	mid := decimal.NewFromFloat(98.40)

	var quotes []decimal.Decimal
	for i := 0; i < 10; i++ {
		for _, q := range p.OnTick(mid, ts) {
			quotes = append(quotes, q.Mid())
		}
	}
	distinct := make(map[string]bool)
	for _, m := range quotes {
		distinct[m.String()] = true
	}
	if len(distinct) < 2 {
		t.Errorf("all dealer mids identical; want independent skew walks")
	}
}

// --- Determinism ---

func TestOnTick_SameSeedSameQuotes(t *testing.T) {
	a := newPanel(t, defaultConfig(), 42)
	b := newPanel(t, defaultConfig(), 42)
	mid := decimal.NewFromFloat(98.40)

	for i := 0; i < 50; i++ {
		qa := a.OnTick(mid, ts)
		qb := b.OnTick(mid, ts)
		for j := range qa {
			if !qa[j].Bid.Equal(qb[j].Bid) || !qa[j].Ask.Equal(qb[j].Ask) {
				t.Fatalf("tick %d dealer %d diverged: %s/%s vs %s/%s",
					i, j, qa[j].Bid, qa[j].Ask, qb[j].Bid, qb[j].Ask)
			}
		}
	}
}

// --- Lookup ---

func TestQuote_KnownAndUnknownDealer(t *testing.T) {
	p := newPanel(t, defaultConfig(), 1)
	p.OnTick(decimal.NewFromFloat(98.40), ts)

	if _, err := p.Quote("DLR-A"); err != nil {
		t.Errorf("known dealer: %v", err)
	}
	if _, err := p.Quote("DLR-X"); !errors.Is(err, dealer.ErrUnknownDealer) {
		t.Errorf("unknown dealer err = %v, want ErrUnknownDealer", err)
	}
}

func TestQuotes_BeforeFirstTickEmpty(t *testing.T) {
	p := newPanel(t, defaultConfig(), 1)
	if got := p.Quotes(); len(got) != 0 {
		t.Errorf("quotes before first tick = %d, want 0", len(got))
	}
}

// --- Config validation ---

func TestNewPanel_InvalidConfig(t *testing.T) {
	cases := []dealer.Config{
		{Dealers: nil, BaseSpread: 0.1, MinSpread: 0.01},
		{Dealers: []string{"A"}, BaseSpread: 0, MinSpread: 0.01},
		{Dealers: []string{"A"}, BaseSpread: 0.1, MinSpread: 0},
		{Dealers: []string{"A"}, BaseSpread: 0.1, MinSpread: 0.01, SpreadVol: -1},
	}
	for i, cfg := range cases {
		if _, err := dealer.NewPanel("X", cfg, 1); !errors.Is(err, dealer.ErrInvalidConfig) {
			t.Errorf("case %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
}
