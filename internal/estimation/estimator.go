package estimation

import (
	"ivquant/domain/dataset"
	"ivquant/internal/conformal"
	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/outcome"
	"ivquant/ports"
)

// PlugInEstimator serves effect queries by direct evaluation of the
// trained outcome sub-network, marginalizing over stored covariates for
// averaged queries.
type PlugInEstimator struct {
	Exposure exposure.Model
	Outcome  *outcome.Model
	Covars   [][]float64
}

// Effect evaluates the structural function at one exposure value.
func (e *PlugInEstimator) Effect(x float64, covars []float64) (float64, error) {
	if len(covars) != e.Outcome.Conf.NCovariates {
		return 0, errors.InvalidInput("covariate width does not match the fitted model")
	}
	return e.Outcome.Effect(x, covars), nil
}

// AvgEffect averages the effect over the empirical covariate sample
// observed at fit time.
func (e *PlugInEstimator) AvgEffect(x float64) (float64, error) {
	if len(e.Covars) == 0 {
		return e.Effect(x, nil)
	}
	total := 0.0
	for _, cv := range e.Covars {
		y, err := e.Effect(x, cv)
		if err != nil {
			return 0, err
		}
		total += y
	}
	return total / float64(len(e.Covars)), nil
}

// ATE is the difference of averaged effects between two exposure
// values.
func (e *PlugInEstimator) ATE(x0, x1 float64) (float64, error) {
	y1, err := e.AvgEffect(x1)
	if err != nil {
		return 0, err
	}
	y0, err := e.AvgEffect(x0)
	if err != nil {
		return 0, err
	}
	return y1 - y0, nil
}

// SQREstimator wraps an SQR-mode outcome model with its conformal
// calibration, producing intervals with guaranteed marginal coverage at
// the calibrated level.
type SQREstimator struct {
	PlugInEstimator
	Calibration conformal.Calibration
}

// EffectWithInterval returns the calibrated band plus the median. The
// coverage guarantee holds at the calibration's own alpha; other levels
// reuse the same widening and carry no finite-sample guarantee.
func (e *SQREstimator) EffectWithInterval(x float64, covars []float64, alpha float64) (ports.EffectInterval, error) {
	if len(covars) != e.Outcome.Conf.NCovariates {
		return ports.EffectInterval{}, errors.InvalidInput("covariate width does not match the fitted model")
	}
	if alpha <= 0 || alpha >= 1 {
		return ports.EffectInterval{}, errors.InvalidInput("interval level alpha must be in (0, 1)")
	}
	lo, mid, hi := e.Outcome.EffectBand(x, covars, alpha)
	lo, hi = e.Calibration.Widen(lo, hi)
	return ports.EffectInterval{Lower: lo, Point: mid, Upper: hi}, nil
}

// sqrBand adapts the frozen outcome model to the calibrator. The score
// must come from the same map that serves intervals, so a held-out
// sample is scored against EffectBand at its observed exposure. Scoring
// any other predictor would calibrate the wrong residual distribution
// and void the coverage guarantee.
type sqrBand struct {
	out *outcome.Model
}

func (b sqrBand) Band(s dataset.Sample, alpha float64) (lo, hi float64) {
	lo, _, hi = b.out.EffectBand(s.X, s.Covariates, alpha)
	return lo, hi
}
