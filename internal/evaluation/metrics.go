package evaluation

import (
	"math"

	"ivquant/ports"
)

// MSE evaluates an estimator against a known structural function over a
// uniform grid on the exposure domain.
func MSE(est ports.EstimatorPort, truth func(x float64) float64, lower, upper float64, points int) (float64, error) {
	step := (upper - lower) / float64(points-1)
	total := 0.0
	for i := 0; i < points; i++ {
		x := lower + float64(i)*step
		y, err := est.AvgEffect(x)
		if err != nil {
			return 0, err
		}
		d := y - truth(x)
		total += d * d
	}
	return total / float64(points), nil
}

// MeanIntervalWidth is the mean absolute width of the prediction
// interval over a uniform grid on the exposure domain.
func MeanIntervalWidth(est ports.UncertaintyEstimatorPort, lower, upper float64, points int, alpha float64) (float64, error) {
	step := (upper - lower) / float64(points-1)
	total := 0.0
	for i := 0; i < points; i++ {
		x := lower + float64(i)*step
		iv, err := est.EffectWithInterval(x, nil, alpha)
		if err != nil {
			return 0, err
		}
		total += math.Abs(iv.Upper - iv.Lower)
	}
	return total / float64(points), nil
}
