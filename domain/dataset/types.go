package dataset

import (
	"fmt"
	"math/rand"

	"github.com/montanaflynn/stats"

	"ivquant/internal/errors"
)

// Sample is one observation: scalar exposure and outcome plus the
// exogenous variables. Instruments and covariates may both be empty.
type Sample struct {
	X           float64
	Y           float64
	Instruments []float64
	Covariates  []float64
}

// Exog returns the concatenation of instruments and covariates, in that
// fixed order. Empty slices contribute nothing.
func (s Sample) Exog() []float64 {
	out := make([]float64, 0, len(s.Instruments)+len(s.Covariates))
	out = append(out, s.Instruments...)
	out = append(out, s.Covariates...)
	return out
}

// ExposureStats holds descriptive statistics of the exposure, computed
// once when the dataset is built.
type ExposureStats struct {
	DomainLower float64 `json:"domain_lower"`
	DomainUpper float64 `json:"domain_upper"`
	Mean        float64 `json:"exposure_mean"`
	StdDev      float64 `json:"exposure_std"`
}

// InMemory is a finite ordered collection of samples with a stable
// exogenous width and precomputed exposure statistics.
type InMemory struct {
	samples          []Sample
	nInstruments     int
	nCovariates      int
	covariableLabels []string
	exposureStats    ExposureStats
}

// New builds an in-memory dataset, verifying that every sample shares
// the same instrument and covariate widths.
func New(samples []Sample, covariableLabels []string) (*InMemory, error) {
	if len(samples) == 0 {
		return nil, errors.InvalidInput("dataset must contain at least one sample")
	}
	nIV := len(samples[0].Instruments)
	nCov := len(samples[0].Covariates)
	for i, s := range samples {
		if len(s.Instruments) != nIV || len(s.Covariates) != nCov {
			return nil, errors.InvalidInput(fmt.Sprintf(
				"inconsistent instrument or covariate width at sample %d", i))
		}
	}
	if len(covariableLabels) != 0 && len(covariableLabels) != nCov {
		return nil, errors.InvalidInput("covariable label count does not match covariate width")
	}

	xs := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
	}
	min, _ := stats.Min(xs)
	max, _ := stats.Max(xs)
	mean, _ := stats.Mean(xs)
	sd, _ := stats.StandardDeviation(xs)

	return &InMemory{
		samples:          samples,
		nInstruments:     nIV,
		nCovariates:      nCov,
		covariableLabels: covariableLabels,
		exposureStats: ExposureStats{
			DomainLower: min,
			DomainUpper: max,
			Mean:        mean,
			StdDev:      sd,
		},
	}, nil
}

// Len returns the number of samples.
func (d *InMemory) Len() int { return len(d.samples) }

// Sample returns the i-th sample.
func (d *InMemory) Sample(i int) Sample { return d.samples[i] }

// NExog returns the combined instrument and covariate width.
func (d *InMemory) NExog() int { return d.nInstruments + d.nCovariates }

// NInstruments returns the instrument width.
func (d *InMemory) NInstruments() int { return d.nInstruments }

// NCovariates returns the covariate width.
func (d *InMemory) NCovariates() int { return d.nCovariates }

// CovariableLabels returns the covariate column labels, which may be
// empty when the source carried none.
func (d *InMemory) CovariableLabels() []string { return d.covariableLabels }

// ExposureDescriptiveStatistics returns the precomputed exposure stats.
func (d *InMemory) ExposureDescriptiveStatistics() ExposureStats { return d.exposureStats }

// Covariates returns one row per sample, nil when the dataset has no
// covariates.
func (d *InMemory) Covariates() [][]float64 {
	if d.nCovariates == 0 {
		return nil
	}
	rows := make([][]float64, len(d.samples))
	for i, s := range d.samples {
		rows[i] = s.Covariates
	}
	return rows
}

// Resample draws len(d) samples with replacement, for bootstrapping.
func (d *InMemory) Resample(rng *rand.Rand) *InMemory {
	samples := make([]Sample, len(d.samples))
	for i := range samples {
		samples[i] = d.samples[rng.Intn(len(d.samples))]
	}
	out, _ := New(samples, d.covariableLabels)
	return out
}

// Split partitions the dataset into two disjoint datasets, with the
// second holding approximately proportion of the samples.
func (d *InMemory) Split(proportion float64, rng *rand.Rand) (*InMemory, *InMemory, error) {
	if proportion <= 0 || proportion >= 1 {
		return nil, nil, errors.InvalidInput("split proportion must be in (0, 1)")
	}
	perm := rng.Perm(len(d.samples))
	nHeld := int(float64(len(d.samples)) * proportion)
	if nHeld < 1 {
		nHeld = 1
	}
	if nHeld >= len(d.samples) {
		return nil, nil, errors.InvalidInput("dataset too small to split")
	}
	held := make([]Sample, 0, nHeld)
	kept := make([]Sample, 0, len(d.samples)-nHeld)
	for i, p := range perm {
		if i < nHeld {
			held = append(held, d.samples[p])
		} else {
			kept = append(kept, d.samples[p])
		}
	}
	keptDS, err := New(kept, d.covariableLabels)
	if err != nil {
		return nil, nil, err
	}
	heldDS, err := New(held, d.covariableLabels)
	if err != nil {
		return nil, nil, err
	}
	return keptDS, heldDS, nil
}
