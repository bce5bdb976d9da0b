package evaluation

import (
	"math"
	"testing"

	"ivquant/ports"
)

type affineEst struct{ slope, intercept float64 }

func (e affineEst) Effect(x float64, _ []float64) (float64, error) {
	return e.slope*x + e.intercept, nil
}
func (e affineEst) AvgEffect(x float64) (float64, error) { return e.Effect(x, nil) }

type fixedWidthEst struct {
	affineEst
	half float64
}

func (e fixedWidthEst) EffectWithInterval(x float64, _ []float64, alpha float64) (ports.EffectInterval, error) {
	p, _ := e.AvgEffect(x)
	return ports.EffectInterval{Lower: p - e.half, Point: p, Upper: p + e.half}, nil
}

func TestMSEZeroForExactEstimator(t *testing.T) {
	est := affineEst{slope: 2, intercept: 1}
	truth := func(x float64) float64 { return 2*x + 1 }
	mse, err := MSE(est, truth, -1, 1, 50)
	if err != nil {
		t.Fatalf("MSE: %v", err)
	}
	if mse > 1e-24 {
		t.Errorf("exact estimator should have zero mse, got %g", mse)
	}
}

func TestMSEConstantBias(t *testing.T) {
	est := affineEst{slope: 2, intercept: 1.5}
	truth := func(x float64) float64 { return 2 * x }
	mse, err := MSE(est, truth, 0, 1, 11)
	if err != nil {
		t.Fatalf("MSE: %v", err)
	}
	if math.Abs(mse-2.25) > 1e-12 {
		t.Errorf("constant bias 1.5 should give mse 2.25, got %g", mse)
	}
}

func TestMeanIntervalWidth(t *testing.T) {
	est := fixedWidthEst{affineEst{slope: 1}, 0.4}
	w, err := MeanIntervalWidth(est, 0, 1, 5, 0.1)
	if err != nil {
		t.Fatalf("MeanIntervalWidth: %v", err)
	}
	if math.Abs(w-0.8) > 1e-12 {
		t.Errorf("expected constant width 0.8, got %g", w)
	}
}
