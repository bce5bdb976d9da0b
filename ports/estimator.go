package ports

// EffectInterval is a (lower, point, upper) triple for one exposure
// value at a requested level.
type EffectInterval struct {
	Lower float64 `json:"lower"`
	Point float64 `json:"point"`
	Upper float64 `json:"upper"`
}

// EstimatorPort is the uniform contract every inference path implements:
// the causal dose-response E[Y | do(X=x)]. When an empirical covariate
// sample was stored at fit time, AvgEffect marginalizes over it.
type EstimatorPort interface {
	Effect(x float64, covars []float64) (float64, error)
	AvgEffect(x float64) (float64, error)
}

// UncertaintyEstimatorPort extends the contract with calibrated or
// analytic prediction intervals.
type UncertaintyEstimatorPort interface {
	EstimatorPort
	EffectWithInterval(x float64, covars []float64, alpha float64) (EffectInterval, error)
}
