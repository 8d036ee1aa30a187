package sim_test

import (
	"errors"
	"testing"

	"github.com/paperdesk/venue-engine/internal/sim"
)

// --- Determinism ---

func TestGBM_SameSeedReplaysBitIdentical(t *testing.T) {
	a, err := sim.NewGBM(100, 0.05, 0.2, 42)
	if err != nil {
		t.Fatalf("new gbm: %v", err)
	}
	b, _ := sim.NewGBM(100, 0.05, 0.2, 42)

	dts := []float64{0.2, 0.2, 1.0, 0.5, 5.0, 0.2}
	for i, dt := range dts {
		la := a.Advance(dt, sim.Adjust{})
		lb := b.Advance(dt, sim.Adjust{})
		if la != lb {
			t.Fatalf("step %d: %v != %v", i, la, lb)
		}
	}
}

func TestGBM_DifferentSeedsDiverge(t *testing.T) {
	a, _ := sim.NewGBM(100, 0.05, 0.2, 1)
	b, _ := sim.NewGBM(100, 0.05, 0.2, 2)

	same := true
	for i := 0; i < 10; i++ {
		if a.Advance(0.2, sim.Adjust{}) != b.Advance(0.2, sim.Adjust{}) {
			same = false
		}
	}
	if same {
		t.Error("independent seeds produced identical paths")
	}
}

func TestGBM_StaysPositive(t *testing.T) {
	g, _ := sim.NewGBM(100, -0.05, 0.5, 9)
	for i := 0; i < 10_000; i++ {
		if level := g.Advance(0.01, sim.Adjust{}); level <= 0 {
			t.Fatalf("step %d: level %v not positive", i, level)
		}
	}
}

func TestOU_RevertsTowardMean(t *testing.T) {
	// Zero vol isolates the deterministic reversion term.
	o, _ := sim.NewOU(110, 0.8, 100, 0, 3)
	prev := o.Level()
	for i := 0; i < 50; i++ {
		next := o.Advance(0.5, sim.Adjust{})
		if next >= prev {
			t.Fatalf("step %d: %v did not move toward the mean from %v", i, next, prev)
		}
		prev = next
	}
	if prev < 100 {
		t.Errorf("overshot the mean without noise: %v", prev)
	}
}

func TestOU_MeanShiftMovesTarget(t *testing.T) {
	o, _ := sim.NewOU(100, 1.0, 100, 0, 3)
	level := o.Advance(0.5, sim.Adjust{MeanShift: 10})
	if level <= 100 {
		t.Errorf("level = %v, want above 100 after upward mean shift", level)
	}
}

// --- Validation ---

func TestNewProcess_InvalidParams(t *testing.T) {
	if _, err := sim.NewGBM(0, 0.05, 0.2, 1); !errors.Is(err, sim.ErrInvalidParams) {
		t.Errorf("zero start: err = %v, want ErrInvalidParams", err)
	}
	if _, err := sim.NewGBM(100, 0.05, -0.2, 1); !errors.Is(err, sim.ErrInvalidParams) {
		t.Errorf("negative vol: err = %v, want ErrInvalidParams", err)
	}
	if _, err := sim.NewOU(100, -1, 100, 0.1, 1); !errors.Is(err, sim.ErrInvalidParams) {
		t.Errorf("negative kappa: err = %v, want ErrInvalidParams", err)
	}
	if _, err := sim.NewOU(100, 1, 100, -0.1, 1); !errors.Is(err, sim.ErrInvalidParams) {
		t.Errorf("negative vol: err = %v, want ErrInvalidParams", err)
	}
}

// --- Generator overrides ---

func TestGenerator_HaltFreezesLevelAndConsumesNoDraws(t *testing.T) {
	mk := func() *sim.Generator {
		p, _ := sim.NewGBM(100, 0.05, 0.2, 42)
		return sim.NewGenerator("ACME", p)
	}

	halted := mk()
	straight := mk()

	// Both advance once in lockstep.
	l1, _ := halted.Step(0.2)
	l2, _ := straight.Step(0.2)
	if l1 != l2 {
		t.Fatalf("pre-halt divergence: %v != %v", l1, l2)
	}

	// The halted generator idles for several steps.
	halted.ApplyOverride(sim.Override{Halted: true})
	for i := 0; i < 5; i++ {
		level, isHalted := halted.Step(0.2)
		if !isHalted {
			t.Fatal("Step did not report halted")
		}
		if level != l1 {
			t.Fatalf("halted level moved: %v != %v", level, l1)
		}
	}

	// After resume both streams are at the same RNG position: the halt
	// consumed no draws.
	halted.ApplyOverride(sim.Override{Halted: false})
	la, _ := halted.Step(0.2)
	lb, _ := straight.Step(0.2)
	if la != lb {
		t.Errorf("post-resume divergence: %v != %v", la, lb)
	}
}

func TestGenerator_OverrideVersionsIncrement(t *testing.T) {
	p, _ := sim.NewGBM(100, 0.05, 0.2, 1)
	g := sim.NewGenerator("ACME", p)

	v1 := g.ApplyOverride(sim.Override{Name: "volatile", VolScale: 1.5})
	v2 := g.ApplyOverride(sim.Override{Name: "rally", DriftShift: 0.01})

	if v1.Version != 1 || v2.Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", v1.Version, v2.Version)
	}
	if got := g.Override(); got.Name != "rally" {
		t.Errorf("effective override = %q, want rally", got.Name)
	}
}

func TestGenerator_VolScaleChangesPath(t *testing.T) {
	mk := func(scale float64) float64 {
		p, _ := sim.NewGBM(100, 0.0, 0.2, 42)
		g := sim.NewGenerator("ACME", p)
		if scale != 1 {
			g.ApplyOverride(sim.Override{VolScale: scale})
		}
		level := 0.0
		for i := 0; i < 10; i++ {
			level, _ = g.Step(0.2)
		}
		return level
	}

	if mk(1) == mk(3) {
		t.Error("vol scale had no effect on the path")
	}
}
