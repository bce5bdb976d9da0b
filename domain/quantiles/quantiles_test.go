package quantiles

import (
	"math"
	"testing"
)

func TestNewSetLevels(t *testing.T) {
	s, err := NewSet(5)
	if err != nil {
		t.Fatalf("NewSet(5): %v", err)
	}
	want := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	if s.Len() != len(want) {
		t.Fatalf("expected %d levels, got %d", len(want), s.Len())
	}
	for k, w := range want {
		if math.Abs(s.At(k)-w) > 1e-12 {
			t.Errorf("level %d: expected %g, got %g", k, w, s.At(k))
		}
	}
}

func TestNewSetLevelsAreIncreasingAndSymmetric(t *testing.T) {
	for _, n := range []int{3, 4, 7, 10, 99} {
		s, err := NewSet(n)
		if err != nil {
			t.Fatalf("NewSet(%d): %v", n, err)
		}
		levels := s.Levels()
		for k := 1; k < len(levels); k++ {
			if levels[k] <= levels[k-1] {
				t.Errorf("n=%d: levels not strictly increasing at %d", n, k)
			}
		}
		for k := range levels {
			mirror := levels[len(levels)-1-k]
			if math.Abs(levels[k]+mirror-1) > 1e-12 {
				t.Errorf("n=%d: levels not symmetric about 0.5 at %d", n, k)
			}
		}
		if levels[0] <= 0 || levels[len(levels)-1] >= 1 {
			t.Errorf("n=%d: levels must stay inside (0, 1)", n)
		}
	}
}

func TestNewSetRejectsTooFew(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 2} {
		if _, err := NewSet(n); err == nil {
			t.Errorf("NewSet(%d) should reject fewer than %d quantiles", n, MinQuantiles)
		}
	}
}

func TestPinballLoss(t *testing.T) {
	cases := []struct {
		tau, y, yhat, want float64
	}{
		{0.5, 1, 0, 0.5},        // under-prediction, symmetric level
		{0.5, 0, 1, 0.5},        // over-prediction, symmetric level
		{0.9, 1, 0, 0.9},        // under-prediction is expensive at high tau
		{0.9, 0, 1, 0.1},        // over-prediction is cheap at high tau
		{0.1, 2, 0, 0.2},        // residual scales linearly
		{0.3, 1, 1, 0},          // exact prediction costs nothing
	}
	for _, c := range cases {
		got := PinballLoss(c.tau, c.y, c.yhat)
		if math.Abs(got-c.want) > 1e-12 {
			t.Errorf("PinballLoss(%g, %g, %g): expected %g, got %g", c.tau, c.y, c.yhat, c.want, got)
		}
	}
}

func TestPinballGradMatchesLoss(t *testing.T) {
	// Finite differences away from the kink.
	const h = 1e-7
	for _, tau := range []float64{0.1, 0.5, 0.9} {
		for _, yhat := range []float64{-1.5, 0.5, 2.0} {
			y := 0.25
			num := (PinballLoss(tau, y, yhat+h) - PinballLoss(tau, y, yhat-h)) / (2 * h)
			got := PinballGrad(tau, y, yhat)
			if math.Abs(num-got) > 1e-5 {
				t.Errorf("tau=%g yhat=%g: numeric grad %g, analytic %g", tau, yhat, num, got)
			}
		}
	}
}

func TestMultiLossSumsLevels(t *testing.T) {
	s, _ := NewSet(3)
	y := 1.0
	yhat := []float64{1, 1, 1}
	if got := s.MultiLoss(y, yhat); got != 0 {
		t.Errorf("exact predictions should cost 0, got %g", got)
	}
	yhat = []float64{0, 0, 0}
	want := PinballLoss(s.At(0), y, 0) + PinballLoss(s.At(1), y, 0) + PinballLoss(s.At(2), y, 0)
	if got := s.MultiLoss(y, yhat); math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %g, got %g", want, got)
	}
}

func TestCrossingFraction(t *testing.T) {
	sorted := [][]float64{{1, 2, 3}, {0, 0.5, 1}}
	if got := CrossingFraction(sorted); got != 0 {
		t.Errorf("sorted predictions should have no crossings, got %g", got)
	}
	crossed := [][]float64{{1, 2, 3}, {3, 2, 1}}
	if got := CrossingFraction(crossed); got != 0.5 {
		t.Errorf("expected half the adjacent pairs crossed, got %g", got)
	}
	if got := CrossingFraction(nil); got != 0 {
		t.Errorf("empty input should report 0, got %g", got)
	}
}
