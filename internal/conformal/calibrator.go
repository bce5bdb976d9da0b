package conformal

import (
	"fmt"
	"math"
	"sort"

	"ivquant/domain/dataset"
	"ivquant/internal/errors"
)

// Nonconformity score kinds.
const (
	ScoreNone = "none"
	ScoreSQR  = "sqr"
)

// Config selects the nonconformity score and the target miscoverage.
type Config struct {
	Score string  `json:"score"`
	Alpha float64 `json:"alpha"`
}

// Validate fails fast on unknown score kinds or an invalid level.
func (c Config) Validate() error {
	if c.Score != ScoreNone && c.Score != ScoreSQR {
		return errors.ConfigInvalid(fmt.Sprintf("unknown conformal score kind %q", c.Score))
	}
	if c.Score != ScoreNone && (c.Alpha <= 0 || c.Alpha >= 1) {
		return errors.ConfigInvalid("miscoverage alpha must be in (0, 1)")
	}
	return nil
}

// BandPredictor produces the model's uncalibrated prediction band for a
// held-out sample.
type BandPredictor interface {
	Band(s dataset.Sample, alpha float64) (lo, hi float64)
}

// Calibration is the immutable state computed once from a held-out
// split: widening both interval ends by Qhat guarantees marginal
// coverage of at least 1-Alpha under exchangeability, regardless of how
// well specified the underlying quantile model is.
type Calibration struct {
	Score string  `json:"score"`
	Alpha float64 `json:"alpha"`
	Qhat  float64 `json:"qhat"`
}

// Calibrate computes the split-conformal adjustment: the empirical
// ceil((m+1)(1-alpha))/m quantile of the per-sample nonconformity
// scores, where each score is the largest signed deviation of the true
// outcome outside the predicted band.
func Calibrate(pred BandPredictor, split []dataset.Sample, conf Config) (Calibration, error) {
	if err := conf.Validate(); err != nil {
		return Calibration{}, err
	}
	if conf.Score == ScoreNone {
		return Calibration{}, errors.ConfigInvalid("calibration requested with score kind none")
	}
	m := len(split)
	if m < 1 {
		return Calibration{}, errors.InvalidInput("calibration split is empty")
	}

	scores := make([]float64, m)
	for i, s := range split {
		lo, hi := pred.Band(s, conf.Alpha)
		scores[i] = math.Max(lo-s.Y, s.Y-hi)
	}
	sort.Float64s(scores)

	// Finite-sample correction; the rank can exceed m for tiny splits,
	// in which case the largest score is the only valid choice.
	rank := int(math.Ceil(float64(m+1) * (1 - conf.Alpha)))
	if rank > m {
		rank = m
	}
	return Calibration{Score: conf.Score, Alpha: conf.Alpha, Qhat: scores[rank-1]}, nil
}

// Widen applies the adjustment to an uncalibrated band.
func (c Calibration) Widen(lo, hi float64) (float64, float64) {
	return lo - c.Qhat, hi + c.Qhat
}
