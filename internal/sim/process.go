// Package sim implements the stochastic price/yield simulation: seeded
// process generators (geometric Brownian motion and Ornstein-Uhlenbeck),
// versioned scenario overrides, and the tick scheduler that drives them.
//
// Transcendental math runs in float64 inside the generators; values are
// converted to shopspring/decimal at the emission boundary.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

var (
	// ErrInvalidParams is returned when a process is constructed with
	// out-of-range parameters.
	ErrInvalidParams = errors.New("sim: invalid process parameters")
)

// Adjust carries the scenario adjustments read by a process at each step.
// Overrides never mutate historical state; they shift the parameters the
// next step reads.
type Adjust struct {
	VolScale   float64 // multiplicative on sigma; 1 = unchanged
	DriftShift float64 // additive on mu
	MeanShift  float64 // additive on theta (mean-reverting processes only)
}

// Process advances one instrument's simulated level. Implementations own
// their RNG stream exclusively; replaying the same seed and dt sequence
// reproduces bit-identical output.
type Process interface {
	// Advance steps the process forward by dt seconds and returns the
	// new level.
	Advance(dt float64, adj Adjust) float64

	// Level returns the current level without advancing.
	Level() float64
}

// newStream returns an independently seeded PCG stream. The second word
// is derived from the first so one configured seed fully determines the
// stream.
func newStream(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// GBM is a geometric Brownian motion price process:
//
//	S_{t+dt} = S_t * exp((mu - 0.5*sigma^2)*dt + sigma*sqrt(dt)*Z)
//
// Used for equities, option underliers and futures.
type GBM struct {
	level float64
	drift float64
	vol   float64
	rng   *rand.Rand
}

// NewGBM creates a GBM process starting at start with annualized-style
// drift and volatility expressed per second of simulated time.
func NewGBM(start, drift, vol float64, seed uint64) (*GBM, error) {
	if start <= 0 {
		return nil, fmt.Errorf("%w: start must be positive", ErrInvalidParams)
	}
	if vol < 0 {
		return nil, fmt.Errorf("%w: volatility must be non-negative", ErrInvalidParams)
	}
	return &GBM{level: start, drift: drift, vol: vol, rng: newStream(seed)}, nil
}

func (g *GBM) Advance(dt float64, adj Adjust) float64 {
	z := g.rng.NormFloat64()
	mu := g.drift + adj.DriftShift
	sigma := g.vol * volScale(adj)
	g.level *= math.Exp((mu-0.5*sigma*sigma)*dt + sigma*math.Sqrt(dt)*z)
	return g.level
}

func (g *GBM) Level() float64 { return g.level }

// OU is an Ornstein-Uhlenbeck mean-reverting process:
//
//	x_{t+dt} = x_t + kappa*(theta - x_t)*dt + sigma*sqrt(dt)*Z
//
// Used for rates, bonds and swaps.
type OU struct {
	level float64
	kappa float64
	theta float64
	vol   float64
	rng   *rand.Rand
}

// NewOU creates a mean-reverting process starting at start with reversion
// speed kappa toward long-run mean theta.
func NewOU(start, kappa, theta, vol float64, seed uint64) (*OU, error) {
	if kappa < 0 {
		return nil, fmt.Errorf("%w: mean reversion must be non-negative", ErrInvalidParams)
	}
	if vol < 0 {
		return nil, fmt.Errorf("%w: volatility must be non-negative", ErrInvalidParams)
	}
	return &OU{level: start, kappa: kappa, theta: theta, vol: vol, rng: newStream(seed)}, nil
}

func (o *OU) Advance(dt float64, adj Adjust) float64 {
	z := o.rng.NormFloat64()
	theta := o.theta + adj.MeanShift
	sigma := o.vol * volScale(adj)
	o.level += o.kappa*(theta-o.level)*dt + sigma*math.Sqrt(dt)*z
	return o.level
}

func (o *OU) Level() float64 { return o.level }

func volScale(adj Adjust) float64 {
	if adj.VolScale == 0 {
		return 1
	}
	return adj.VolScale
}

// Override is a versioned scenario record applied to a generator. Each
// application produces a new version; prior versions are never mutated.
type Override struct {
	Version    int64   `json:"version"`
	Name       string  `json:"name,omitempty"` // preset name, if applied from one
	VolScale   float64 `json:"vol_scale,omitempty"`
	DriftShift float64 `json:"drift_shift,omitempty"`
	MeanShift  float64 `json:"mean_shift,omitempty"`
	Halted     bool    `json:"halted,omitempty"`
}

// Generator owns one instrument's SimulationState: the process, its RNG
// position, and the currently effective override. Never shared; only the
// owning scheduler feed steps it.
type Generator struct {
	instrumentID string

	mu       sync.Mutex
	proc     Process
	override Override
	history  []Override
}

// NewGenerator wraps a process for the given instrument.
func NewGenerator(instrumentID string, proc Process) *Generator {
	return &Generator{instrumentID: instrumentID, proc: proc}
}

// InstrumentID returns the owning instrument.
func (g *Generator) InstrumentID() string { return g.instrumentID }

// Step advances the process by dt seconds under the current override.
// A halted generator returns its last level unchanged and consumes no
// random draws, keeping the stream replayable across halt windows.
func (g *Generator) Step(dt float64) (level float64, halted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o := g.override
	if o.Halted {
		return g.proc.Level(), true
	}
	adj := Adjust{VolScale: o.VolScale, DriftShift: o.DriftShift, MeanShift: o.MeanShift}
	return g.proc.Advance(dt, adj), false
}

// Level returns the current level without advancing.
func (g *Generator) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.proc.Level()
}

// ApplyOverride installs a new scenario override and returns it stamped
// with the next version number.
func (g *Generator) ApplyOverride(o Override) Override {
	g.mu.Lock()
	defer g.mu.Unlock()

	o.Version = g.override.Version + 1
	g.override = o
	g.history = append(g.history, o)
	return o
}

// Override returns the currently effective override record.
func (g *Generator) Override() Override {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.override
}

// Halted reports whether the generator is currently halted.
func (g *Generator) Halted() bool {
	return g.Override().Halted
}
