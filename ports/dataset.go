package ports

import (
	"ivquant/domain/dataset"
)

// DatasetPort is the contract the estimation core consumes. Loading and
// format-specific parsing live in adapters; the core only reads samples
// and precomputed statistics.
type DatasetPort interface {
	Len() int
	Sample(i int) dataset.Sample
	NExog() int
	NCovariates() int
	CovariableLabels() []string
	ExposureDescriptiveStatistics() dataset.ExposureStats
	// Covariates returns one row per sample, nil when none exist. The
	// rows back the empirical marginalization in averaged effects and
	// are persisted separately from the networks.
	Covariates() [][]float64
}
