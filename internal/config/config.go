// Package config loads runtime settings from the environment and the
// instrument universe from a YAML file. The universe is validated fully at
// load; the process refuses to boot on an invalid definition rather than
// trade a half-configured venue.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/paperdesk/venue-engine/internal/model"
)

// ErrInvalidUniverse is returned for universe files that fail validation.
var ErrInvalidUniverse = errors.New("config: invalid universe")

// Config holds process-level settings from the environment.
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	UniversePath string
	CacheTTL     time.Duration
}

// Load reads environment configuration. A .env file is honored when
// present and silently skipped otherwise.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		UniversePath: getEnv("UNIVERSE_PATH", "universe.yaml"),
		CacheTTL:     30 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Scenario is a named market condition applied to an instrument's
// generator: volatility scaling, drift or mean shifts, halts, and an
// optional cadence change.
type Scenario struct {
	VolScale   float64             `yaml:"vol_scale"`
	DriftShift float64             `yaml:"drift_shift"`
	MeanShift  float64             `yaml:"mean_shift"`
	Halted     bool                `yaml:"halted"`
	Tier       model.LiquidityTier `yaml:"liquidity_tier"`
	IntervalMS int                 `yaml:"interval_ms"`
}

// PresetScenarios returns the built-in scenario set. Universe files may
// override a preset by redefining its name.
func PresetScenarios() map[string]Scenario {
	return map[string]Scenario{
		"volatile": {VolScale: 1.5, Tier: model.TierLow, IntervalMS: 1500},
		"halted":   {Halted: true},
		"rally":    {DriftShift: 0.01, Tier: model.TierHigh},
	}
}

// BookSpec configures the synthetic ladder of a listed instrument.
type BookSpec struct {
	Levels     int     `yaml:"levels"`
	BaseQty    string  `yaml:"base_qty"`
	QtyDecay   float64 `yaml:"qty_decay"`
	PriceNoise float64 `yaml:"price_noise"`
}

// DealerSpec configures the dealer panel of an OTC instrument.
type DealerSpec struct {
	IDs        []string `yaml:"ids"`
	BaseSpread float64  `yaml:"base_spread"`
	SpreadVol  float64  `yaml:"spread_vol"`
	SkewVol    float64  `yaml:"skew_vol"`
	MinSpread  float64  `yaml:"min_spread"`
}

// InstrumentSpec is one instrument's full definition: static reference
// data, price process parameters, and either a book or a dealer panel.
type InstrumentSpec struct {
	ID       string `yaml:"id"`
	Class    string `yaml:"asset_class"`
	TickSize string `yaml:"tick_size"`
	LotSize  string `yaml:"lot_size"`
	Currency string `yaml:"currency"`
	Tier     string `yaml:"liquidity_tier"`

	// Price process. Drift/Vol drive GBM; Kappa/Theta drive the
	// mean-reverting rate process for bonds and swaps.
	Start      float64 `yaml:"start"`
	Drift      float64 `yaml:"drift"`
	Vol        float64 `yaml:"vol"`
	Kappa      float64 `yaml:"kappa"`
	Theta      float64 `yaml:"theta"`
	Seed       uint64  `yaml:"seed"`
	IntervalMS int     `yaml:"interval_ms"`

	// Derivative reference data.
	Underlier        string             `yaml:"underlier"`
	OptionDelta      string             `yaml:"option_delta"`
	ModifiedDuration string             `yaml:"modified_duration"`
	Maturity         string             `yaml:"maturity"` // YYYY-MM-DD
	Tenor            string             `yaml:"tenor"`
	Curve            map[string]float64 `yaml:"curve"`
	DV01PerMillion   float64            `yaml:"dv01_per_million"`
	ContractMonth    string             `yaml:"contract_month"`
	Multiplier       string             `yaml:"multiplier"`

	Book    *BookSpec   `yaml:"book"`
	Dealers *DealerSpec `yaml:"dealers"`

	// Scenario applied at boot, by name.
	Scenario string `yaml:"scenario"`
}

// AccountSpec seeds one user account.
type AccountSpec struct {
	UserID        string `yaml:"user_id"`
	Cash          string `yaml:"cash"`
	Currency      string `yaml:"currency"`
	MarginAllowed bool   `yaml:"margin_allowed"`
}

// Universe is the full venue definition loaded at boot.
type Universe struct {
	Seed             uint64              `yaml:"seed"`
	QuoteFreshnessMS int                 `yaml:"quote_freshness_ms"`
	RiskEpsilon      float64             `yaml:"risk_epsilon"`
	BusRetention     int                 `yaml:"bus_retention"`
	Scenarios        map[string]Scenario `yaml:"scenarios"`
	Instruments      []InstrumentSpec    `yaml:"instruments"`
	Accounts         []AccountSpec       `yaml:"accounts"`
}

// LoadUniverse reads and validates a universe file.
func LoadUniverse(path string) (Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Universe{}, fmt.Errorf("read universe: %w", err)
	}
	return ParseUniverse(data)
}

// ParseUniverse parses and validates universe YAML.
func ParseUniverse(data []byte) (Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return Universe{}, fmt.Errorf("%w: %v", ErrInvalidUniverse, err)
	}
	if err := u.Validate(); err != nil {
		return Universe{}, err
	}
	return u, nil
}

// Scenario resolves a scenario by name: universe definitions first, then
// the built-in presets.
func (u Universe) Scenario(name string) (Scenario, bool) {
	if s, ok := u.Scenarios[name]; ok {
		return s, true
	}
	s, ok := PresetScenarios()[name]
	return s, ok
}

// QuoteFreshness returns the OTC quote staleness window.
func (u Universe) QuoteFreshness() time.Duration {
	if u.QuoteFreshnessMS <= 0 {
		return 0
	}
	return time.Duration(u.QuoteFreshnessMS) * time.Millisecond
}

// Validate checks the whole universe. The first violation is reported.
func (u Universe) Validate() error {
	if len(u.Instruments) == 0 {
		return fmt.Errorf("%w: no instruments defined", ErrInvalidUniverse)
	}
	seen := make(map[string]bool)
	for i, spec := range u.Instruments {
		if err := spec.validate(); err != nil {
			return fmt.Errorf("%w: instrument %d (%s): %v", ErrInvalidUniverse, i, spec.ID, err)
		}
		if seen[spec.ID] {
			return fmt.Errorf("%w: duplicate instrument id %s", ErrInvalidUniverse, spec.ID)
		}
		seen[spec.ID] = true
		if spec.Scenario != "" {
			if _, ok := u.Scenario(spec.Scenario); !ok {
				return fmt.Errorf("%w: instrument %s references unknown scenario %q", ErrInvalidUniverse, spec.ID, spec.Scenario)
			}
		}
	}
	users := make(map[string]bool)
	for i, acct := range u.Accounts {
		if acct.UserID == "" {
			return fmt.Errorf("%w: account %d has no user id", ErrInvalidUniverse, i)
		}
		if users[acct.UserID] {
			return fmt.Errorf("%w: duplicate account %s", ErrInvalidUniverse, acct.UserID)
		}
		users[acct.UserID] = true
		if _, err := decimal.NewFromString(acct.Cash); err != nil {
			return fmt.Errorf("%w: account %s cash %q: %v", ErrInvalidUniverse, acct.UserID, acct.Cash, err)
		}
	}
	return nil
}

func (s InstrumentSpec) validate() error {
	if s.ID == "" {
		return errors.New("id required")
	}
	class := model.AssetClass(s.Class)
	switch class {
	case model.AssetEquity, model.AssetOption, model.AssetFuture, model.AssetBond, model.AssetSwap:
	default:
		return fmt.Errorf("unknown asset class %q", s.Class)
	}
	if tick, err := decimal.NewFromString(s.TickSize); err != nil || !tick.IsPositive() {
		return fmt.Errorf("tick size %q must be a positive decimal", s.TickSize)
	}
	if lot, err := decimal.NewFromString(s.LotSize); err != nil || !lot.IsPositive() {
		return fmt.Errorf("lot size %q must be a positive decimal", s.LotSize)
	}
	switch model.LiquidityTier(s.Tier) {
	case model.TierHigh, model.TierMedium, model.TierLow:
	default:
		return fmt.Errorf("unknown liquidity tier %q", s.Tier)
	}
	if s.Start <= 0 {
		return errors.New("start level must be positive")
	}
	if class.RateDriven() {
		if s.Kappa <= 0 {
			return errors.New("rate instruments need a positive kappa")
		}
	} else if s.Vol < 0 {
		return errors.New("volatility must be non-negative")
	}

	if class.OTC() {
		if s.Dealers == nil || len(s.Dealers.IDs) == 0 {
			return errors.New("OTC instruments need a dealer panel")
		}
		if s.Book != nil {
			return errors.New("OTC instruments do not carry an order book")
		}
	} else {
		if s.Book == nil {
			return errors.New("listed instruments need a book definition")
		}
		if s.Dealers != nil {
			return errors.New("listed instruments do not carry a dealer panel")
		}
		if _, err := decimal.NewFromString(s.Book.BaseQty); err != nil {
			return fmt.Errorf("book base qty %q: %v", s.Book.BaseQty, err)
		}
	}

	if s.Maturity != "" {
		if _, err := time.Parse("2006-01-02", s.Maturity); err != nil {
			return fmt.Errorf("maturity %q: want YYYY-MM-DD", s.Maturity)
		}
	}
	return nil
}

// Model converts the spec into the domain instrument. Validation has
// already run; parse errors here are programming errors.
func (s InstrumentSpec) Model() model.Instrument {
	tick, _ := decimal.NewFromString(s.TickSize)
	lot, _ := decimal.NewFromString(s.LotSize)
	inst := model.Instrument{
		ID:       s.ID,
		Class:    model.AssetClass(s.Class),
		TickSize: tick,
		LotSize:  lot,
		Currency: s.Currency,
		Tier:     model.LiquidityTier(s.Tier),
	}
	if s.Underlier != "" {
		inst.Underlier = s.Underlier
	}
	if s.OptionDelta != "" {
		inst.OptionDelta, _ = decimal.NewFromString(s.OptionDelta)
	}
	if s.ModifiedDuration != "" {
		inst.ModifiedDuration, _ = decimal.NewFromString(s.ModifiedDuration)
	}
	if s.Maturity != "" {
		if t, err := time.Parse("2006-01-02", s.Maturity); err == nil {
			inst.Maturity = &t
		}
	}
	return inst
}

// Interval returns the configured tick cadence, falling back to the
// tier default.
func (s InstrumentSpec) Interval() time.Duration {
	if s.IntervalMS > 0 {
		return time.Duration(s.IntervalMS) * time.Millisecond
	}
	return model.LiquidityTier(s.Tier).DefaultInterval()
}
