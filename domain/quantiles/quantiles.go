package quantiles

import (
	"fmt"

	"ivquant/internal/errors"
)

// Set is a fixed ordered collection of probability levels used by the
// exposure quantile models. Levels are (2k-1)/(2n) for k=1..n, which is
// symmetric around the median and strictly increasing. A Set never
// changes for the lifetime of a fitted model.
type Set struct {
	levels []float64
}

// MinQuantiles is the smallest number of levels for which the plug-in
// averaging step is meaningful.
const MinQuantiles = 3

// NewSet builds a quantile set with n levels.
func NewSet(n int) (Set, error) {
	if n < MinQuantiles {
		return Set{}, errors.ConfigInvalid(
			fmt.Sprintf("n_quantiles must be at least %d, got %d", MinQuantiles, n))
	}
	levels := make([]float64, n)
	for k := 1; k <= n; k++ {
		levels[k-1] = float64(2*k-1) / float64(2*n)
	}
	return Set{levels: levels}, nil
}

// FromLevels restores a set from persisted levels without revalidating
// the count. Used when reloading artifacts.
func FromLevels(levels []float64) Set {
	cp := make([]float64, len(levels))
	copy(cp, levels)
	return Set{levels: cp}
}

// Len returns the number of quantile levels.
func (s Set) Len() int { return len(s.levels) }

// Levels returns a copy of the probability levels.
func (s Set) Levels() []float64 {
	cp := make([]float64, len(s.levels))
	copy(cp, s.levels)
	return cp
}

// At returns the k-th probability level.
func (s Set) At(k int) float64 { return s.levels[k] }

// PinballLoss is the asymmetric quantile loss at level tau for a single
// prediction: max(tau*(y-yhat), (tau-1)*(y-yhat)).
func PinballLoss(tau, y, yhat float64) float64 {
	d := y - yhat
	if d >= 0 {
		return tau * d
	}
	return (tau - 1) * d
}

// PinballGrad is the subgradient of PinballLoss with respect to yhat.
func PinballGrad(tau, y, yhat float64) float64 {
	if y > yhat {
		return -tau
	}
	return 1 - tau
}

// MultiLoss sums the pinball loss across all levels of the set for one
// observed value and one prediction per level.
func (s Set) MultiLoss(y float64, yhat []float64) float64 {
	total := 0.0
	for j, tau := range s.levels {
		total += PinballLoss(tau, y, yhat[j])
	}
	return total
}

// MultiGrad writes the per-level subgradient of MultiLoss into grad.
func (s Set) MultiGrad(y float64, yhat, grad []float64) {
	for j, tau := range s.levels {
		grad[j] = PinballGrad(tau, y, yhat[j])
	}
}

// CrossingFraction reports the fraction of adjacent quantile pairs that
// violate monotonicity across a batch of predictions. Predictions are
// row-major, one row of Len() values per sample.
func CrossingFraction(preds [][]float64) float64 {
	pairs, crossed := 0, 0
	for _, row := range preds {
		for j := 1; j < len(row); j++ {
			pairs++
			if row[j] < row[j-1] {
				crossed++
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(crossed) / float64(pairs)
}
