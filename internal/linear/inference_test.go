package linear

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/outcome"
	"ivquant/internal/testkit"
)

// identityExposure predicts [z-0.1, z, z+0.1] for a scalar instrument,
// so the plug-in average is exactly the instrument.
func identityExposure(t *testing.T) exposure.Model {
	t.Helper()
	conf := exposure.Config{
		NQuantiles:   3,
		InputSize:    1,
		Hidden:       []int{1},
		Activation:   "identity",
		LearningRate: 1e-2,
	}
	m, err := exposure.New(conf)
	if err != nil {
		t.Fatalf("exposure.New: %v", err)
	}
	qn, ok := m.(*exposure.QuantileNet)
	if !ok {
		t.Fatal("expected the unconstrained variant")
	}
	if err := qn.Net.SetLayerWeights(0, [][]float64{{1}}, []float64{0}); err != nil {
		t.Fatal(err)
	}
	if err := qn.Net.SetLayerWeights(1, [][]float64{{1}, {1}, {1}}, []float64{-0.1, 0, 0.1}); err != nil {
		t.Fatal(err)
	}
	return m
}

// identityOutcome has a scalar representation equal to its input.
func identityOutcome(t *testing.T) *outcome.Model {
	t.Helper()
	conf := outcome.Config{
		Hidden:       []int{1},
		Activation:   "identity",
		LearningRate: 1e-2,
		OutcomeType:  outcome.TypeContinuous,
	}
	m, err := outcome.New(conf)
	if err != nil {
		t.Fatalf("outcome.New: %v", err)
	}
	if err := m.Net.SetLayerWeights(0, [][]float64{{1}}, []float64{0}); err != nil {
		t.Fatal(err)
	}
	if err := m.Net.SetLayerWeights(1, [][]float64{{1}}, []float64{0}); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFitRecoversLinearEffect(t *testing.T) {
	spec := testkit.LinearIVSpec{
		N:           4000,
		Gamma:       []float64{1.0},
		Delta:       2.0,
		Confounding: 0.8,
		NoiseX:      0.3,
		NoiseY:      0.3,
		Seed:        13,
	}
	ds := spec.Generate()

	inf, err := Fit(identityExposure(t), identityOutcome(t), ds, Config{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	e0, err := inf.Effect(0, nil)
	if err != nil {
		t.Fatalf("Effect: %v", err)
	}
	e1, err := inf.Effect(1, nil)
	if err != nil {
		t.Fatalf("Effect: %v", err)
	}
	slope := e1 - e0
	if math.Abs(slope-spec.Delta) > 0.15 {
		t.Errorf("2SLS slope should be near %g despite confounding, got %g", spec.Delta, slope)
	}

	ate, err := inf.ATE(0, 1)
	if err != nil {
		t.Fatalf("ATE: %v", err)
	}
	if math.Abs(ate-slope) > 1e-9 {
		t.Errorf("without covariates ATE(0,1) should equal the slope, got %g vs %g", ate, slope)
	}
}

func TestEffectWithInterval(t *testing.T) {
	spec := testkit.DefaultLinearIV(3000, 17)
	ds := spec.Generate()
	// Two instruments feed a scalar representation through their sum.
	expModel, err := exposure.New(exposure.Config{
		NQuantiles:   3,
		InputSize:    2,
		Hidden:       []int{1},
		Activation:   "identity",
		LearningRate: 1e-2,
	})
	if err != nil {
		t.Fatal(err)
	}
	qn := expModel.(*exposure.QuantileNet)
	if err := qn.Net.SetLayerWeights(0, [][]float64{{1, 0.5}}, []float64{0}); err != nil {
		t.Fatal(err)
	}
	if err := qn.Net.SetLayerWeights(1, [][]float64{{1}, {1}, {1}}, []float64{-0.1, 0, 0.1}); err != nil {
		t.Fatal(err)
	}

	inf, err := Fit(expModel, identityOutcome(t), ds, Config{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	iv, err := inf.EffectWithInterval(1, nil, 0.05)
	if err != nil {
		t.Fatalf("EffectWithInterval: %v", err)
	}
	if !(iv.Lower < iv.Point && iv.Point < iv.Upper) {
		t.Errorf("interval should bracket the point: %+v", iv)
	}

	wide, err := inf.EffectWithInterval(1, nil, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if wide.Upper-wide.Lower <= iv.Upper-iv.Lower {
		t.Error("lower alpha should widen the interval")
	}

	if _, err := inf.EffectWithInterval(1, nil, 0); err == nil {
		t.Error("alpha 0 should be rejected")
	}
	if _, err := inf.EffectWithInterval(1, nil, 1); err == nil {
		t.Error("alpha 1 should be rejected")
	}
}

func TestIntervalCoverageOverRepeatedDraws(t *testing.T) {
	if testing.Short() {
		t.Skip("repeated fits")
	}
	// The truth h(1) = Delta under the structural model; the analytic
	// interval should cover it at close to the nominal rate.
	const reps = 30
	covered := 0
	for r := 0; r < reps; r++ {
		spec := testkit.LinearIVSpec{
			N:           1500,
			Gamma:       []float64{1.0},
			Delta:       2.0,
			Confounding: 0.5,
			NoiseX:      0.5,
			NoiseY:      0.5,
			Seed:        100 + int64(r),
		}
		inf, err := Fit(identityExposure(t), identityOutcome(t), spec.Generate(), Config{})
		if err != nil {
			t.Fatalf("rep %d: %v", r, err)
		}
		iv1, err := inf.EffectWithInterval(1, nil, 0.1)
		if err != nil {
			t.Fatal(err)
		}
		iv0, err := inf.EffectWithInterval(0, nil, 0.1)
		if err != nil {
			t.Fatal(err)
		}
		// Difference interval via the pointwise bounds; conservative but
		// monotone in the se, which is what the check exercises.
		lo := (iv1.Lower - iv1.Point) + (iv0.Lower - iv0.Point) + (iv1.Point - iv0.Point)
		hi := (iv1.Upper - iv1.Point) + (iv0.Upper - iv0.Point) + (iv1.Point - iv0.Point)
		if spec.Delta >= lo && spec.Delta <= hi {
			covered++
		}
	}
	if rate := float64(covered) / reps; rate < 0.75 {
		t.Errorf("slope coverage %g over %d draws, nominal 0.9", rate, reps)
	}
}

func TestFitDegenerateRepresentation(t *testing.T) {
	ds := testkit.DefaultLinearIV(200, 5).Generate()
	out := identityOutcome(t)
	// A constant representation has zero variance and no usable
	// information for the closed form.
	if err := out.Net.SetLayerWeights(0, [][]float64{{0}}, []float64{1}); err != nil {
		t.Fatal(err)
	}
	expModel, err := exposure.New(exposure.Config{
		NQuantiles:   3,
		InputSize:    2,
		Hidden:       []int{1},
		Activation:   "identity",
		LearningRate: 1e-2,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = Fit(expModel, out, ds, Config{})
	if err == nil {
		t.Fatal("expected a degenerate-inference error")
	}
	if errors.GetCode(err) != errors.CodeDegenerateInference {
		t.Errorf("expected DEGENERATE_INFERENCE, got %s", errors.GetCode(err))
	}
}

func TestFitPCAThreshold(t *testing.T) {
	// Two dimensions, almost all variance in the first.
	n := 100
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		v := float64(i) - float64(n-1)/2
		x.Set(i, 0, v)
		x.Set(i, 1, v*1e-6)
	}
	p, err := FitPCA(x, 0.999)
	if err != nil {
		t.Fatalf("FitPCA: %v", err)
	}
	if p.NComponents() != 1 {
		t.Errorf("expected 1 retained component, got %d", p.NComponents())
	}

	full, err := FitPCA(x, 1.0)
	if err != nil {
		t.Fatalf("FitPCA: %v", err)
	}
	if full.NComponents() != 2 {
		t.Errorf("threshold 1.0 should keep both components, got %d", full.NComponents())
	}
}
