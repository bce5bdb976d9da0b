package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"ivquant/domain/dataset"
)

// LinearIVSpec describes a synthetic linear instrumental-variable
// scenario: instruments z, confounder u, exposure x = z.Gamma + c*u + e,
// outcome y = Delta*x + c*u + e'. The confounder makes naive regression
// of y on x biased while z remains a valid instrument.
type LinearIVSpec struct {
	N           int
	Gamma       []float64
	Delta       float64
	Confounding float64
	NoiseX      float64
	NoiseY      float64
	Seed        int64
}

// DefaultLinearIV is a well-identified two-instrument scenario.
func DefaultLinearIV(n int, seed int64) LinearIVSpec {
	return LinearIVSpec{
		N:           n,
		Gamma:       []float64{1.0, 0.5},
		Delta:       2.0,
		Confounding: 0.5,
		NoiseX:      0.5,
		NoiseY:      0.5,
		Seed:        seed,
	}
}

// Generate draws the dataset.
func (s LinearIVSpec) Generate() *dataset.InMemory {
	rng := rand.New(rand.NewSource(s.Seed))
	samples := make([]dataset.Sample, s.N)
	for i := range samples {
		z := make([]float64, len(s.Gamma))
		x := 0.0
		for j := range z {
			z[j] = rng.NormFloat64()
			x += z[j] * s.Gamma[j]
		}
		u := rng.NormFloat64()
		x += s.Confounding*u + s.NoiseX*rng.NormFloat64()
		y := s.Delta*x + s.Confounding*u + s.NoiseY*rng.NormFloat64()
		samples[i] = dataset.Sample{X: x, Y: y, Instruments: z}
	}
	ds, err := dataset.New(samples, nil)
	if err != nil {
		panic(err)
	}
	return ds
}

// GaussianExposureSpec is a single-instrument scenario where the
// conditional quantiles of the exposure are known in closed form:
// x | z ~ Normal(Slope*z, Sigma^2), so the tau-quantile is
// Slope*z + Sigma*Phi^-1(tau).
type GaussianExposureSpec struct {
	N     int
	Slope float64
	Sigma float64
	Seed  int64
}

// Generate draws the dataset; outcomes follow y = x + noise so the
// dataset is usable end to end.
func (s GaussianExposureSpec) Generate() *dataset.InMemory {
	rng := rand.New(rand.NewSource(s.Seed))
	samples := make([]dataset.Sample, s.N)
	for i := range samples {
		z := rng.NormFloat64()
		x := s.Slope*z + s.Sigma*rng.NormFloat64()
		y := x + 0.1*rng.NormFloat64()
		samples[i] = dataset.Sample{X: x, Y: y, Instruments: []float64{z}}
	}
	ds, err := dataset.New(samples, nil)
	if err != nil {
		panic(err)
	}
	return ds
}

// TrueQuantile returns the closed-form conditional exposure quantile.
func (s GaussianExposureSpec) TrueQuantile(z, tau float64) float64 {
	return s.Slope*z + s.Sigma*NormalQuantile(tau)
}

// NormalQuantile is the standard Normal inverse CDF.
func NormalQuantile(tau float64) float64 {
	return distuv.UnitNormal.Quantile(tau)
}

// BinaryOutcomeIV draws a linear-IV dataset with a Bernoulli outcome
// whose log-odds are linear in the exposure.
func BinaryOutcomeIV(n int, seed int64) *dataset.InMemory {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]dataset.Sample, n)
	for i := range samples {
		z := rng.NormFloat64()
		x := z + 0.5*rng.NormFloat64()
		p := 1 / (1 + math.Exp(-x))
		y := 0.0
		if rng.Float64() < p {
			y = 1
		}
		samples[i] = dataset.Sample{X: x, Y: y, Instruments: []float64{z}}
	}
	ds, err := dataset.New(samples, nil)
	if err != nil {
		panic(err)
	}
	return ds
}
