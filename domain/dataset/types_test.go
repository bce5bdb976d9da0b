package dataset

import (
	"math"
	"math/rand"
	"testing"

	"ivquant/internal/errors"
)

func testSamples(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		x := float64(i)
		samples[i] = Sample{
			X:           x,
			Y:           2 * x,
			Instruments: []float64{x / 10, -x / 10},
			Covariates:  []float64{1},
		}
	}
	return samples
}

func TestNewValidatesWidths(t *testing.T) {
	samples := testSamples(5)
	samples[3].Instruments = []float64{0}
	_, err := New(samples, []string{"c"})
	if err == nil {
		t.Fatal("expected an error for inconsistent instrument widths")
	}
	if errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", errors.GetCode(err))
	}
}

func TestNewValidatesLabels(t *testing.T) {
	if _, err := New(testSamples(5), []string{"a", "b"}); err == nil {
		t.Fatal("expected an error when labels do not match the covariate width")
	}
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected an error for an empty dataset")
	}
}

func TestExposureStatistics(t *testing.T) {
	ds, err := New(testSamples(5), []string{"c"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st := ds.ExposureDescriptiveStatistics()
	if st.DomainLower != 0 || st.DomainUpper != 4 {
		t.Errorf("expected domain [0, 4], got [%g, %g]", st.DomainLower, st.DomainUpper)
	}
	if math.Abs(st.Mean-2) > 1e-12 {
		t.Errorf("expected mean 2, got %g", st.Mean)
	}
	if st.StdDev <= 0 {
		t.Errorf("expected positive std dev, got %g", st.StdDev)
	}
}

func TestExogOrder(t *testing.T) {
	s := Sample{Instruments: []float64{1, 2}, Covariates: []float64{3}}
	exog := s.Exog()
	if len(exog) != 3 || exog[0] != 1 || exog[1] != 2 || exog[2] != 3 {
		t.Errorf("instruments must precede covariates, got %v", exog)
	}
}

func TestSplitIsDisjointPartition(t *testing.T) {
	ds, _ := New(testSamples(100), []string{"c"})
	rng := rand.New(rand.NewSource(1))
	train, held, err := ds.Split(0.2, rng)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if held.Len() != 20 || train.Len() != 80 {
		t.Fatalf("expected 80/20 split, got %d/%d", train.Len(), held.Len())
	}
	seen := map[float64]int{}
	for i := 0; i < train.Len(); i++ {
		seen[train.Sample(i).X]++
	}
	for i := 0; i < held.Len(); i++ {
		seen[held.Sample(i).X]++
	}
	if len(seen) != 100 {
		t.Errorf("expected every sample exactly once across the split, got %d distinct", len(seen))
	}
}

func TestSplitRejectsBadProportion(t *testing.T) {
	ds, _ := New(testSamples(10), []string{"c"})
	rng := rand.New(rand.NewSource(1))
	for _, p := range []float64{0, 1, -0.5, 1.5} {
		if _, _, err := ds.Split(p, rng); err == nil {
			t.Errorf("proportion %g should be rejected", p)
		}
	}
}

func TestResampleKeepsSizeAndWidths(t *testing.T) {
	ds, _ := New(testSamples(50), []string{"c"})
	rng := rand.New(rand.NewSource(7))
	boot := ds.Resample(rng)
	if boot.Len() != ds.Len() {
		t.Fatalf("bootstrap must keep the sample count, got %d", boot.Len())
	}
	if boot.NExog() != ds.NExog() || boot.NCovariates() != ds.NCovariates() {
		t.Error("bootstrap must keep the exogenous widths")
	}
	// With 50 draws with replacement, repeats are overwhelmingly likely.
	counts := map[float64]int{}
	for i := 0; i < boot.Len(); i++ {
		counts[boot.Sample(i).X]++
	}
	if len(counts) == ds.Len() {
		t.Error("resample with replacement should repeat some samples")
	}
}

func TestCovariatesRows(t *testing.T) {
	ds, _ := New(testSamples(3), []string{"c"})
	rows := ds.Covariates()
	if len(rows) != 3 {
		t.Fatalf("expected 3 covariate rows, got %d", len(rows))
	}
	noCov, _ := New([]Sample{{X: 1, Y: 1}}, nil)
	if noCov.Covariates() != nil {
		t.Error("datasets without covariates should return nil rows")
	}
}
