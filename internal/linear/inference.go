package linear

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/outcome"
	"ivquant/ports"
)

// DefaultVarianceThreshold keeps PCA components explaining at least this
// share of the representation variance.
const DefaultVarianceThreshold = 0.999

// seFloor keeps rounding noise from producing a negative variance under
// the square root.
const seFloor = 1e-200

// Config controls the closed-form re-estimation.
type Config struct {
	VarianceThreshold float64 `json:"variance_threshold"`
}

func (c Config) threshold() float64 {
	if c.VarianceThreshold <= 0 || c.VarianceThreshold > 1 {
		return DefaultVarianceThreshold
	}
	return c.VarianceThreshold
}

// Inference is the post-hoc linear IV estimator: the trained outcome
// network is treated as a fixed nonlinear feature map and all
// inferential content comes from a 2SLS closed form inside the
// PCA-compressed representation space. Immutable once fitted.
type Inference struct {
	pca     *PCA
	beta    *mat.VecDense
	cov     *mat.Dense
	outcome *outcome.Model
	covars  [][]float64
}

// Fit derives the linear inference state from the trained models and
// the full training sample, without retraining either network.
func Fit(exp exposure.Model, out *outcome.Model, data ports.DatasetPort, conf Config) (*Inference, error) {
	n := data.Len()
	d := out.RepresentationSize()
	if n <= d+1 {
		return nil, errors.InvalidInput("not enough samples for linear inference")
	}

	etaBar := mat.NewDense(n, d, nil)
	h := mat.NewDense(n, d, nil)
	y := mat.NewVecDense(n, nil)

	// Representation extraction is read-only on both networks, so rows
	// can be filled in parallel.
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	chunk := (n + runtime.NumCPU() - 1) / runtime.NumCPU()
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				s := data.Sample(i)
				xhats := exp.Predict(s.Exog())
				row := make([]float64, d)
				for _, xh := range xhats {
					repr := out.Representation(xh, s.Covariates)
					for c := range row {
						row[c] += repr[c] / float64(len(xhats))
					}
				}
				etaBar.SetRow(i, row)
				h.SetRow(i, out.Representation(s.X, s.Covariates))
				y.SetVec(i, s.Y)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pca, err := FitPCA(etaBar, conf.threshold())
	if err != nil {
		return nil, err
	}
	etaP := withIntercept(pca.Transform(etaBar))
	hP := withIntercept(pca.Transform(h))

	// IV normal equations: beta = (etaP' hP)^-1 etaP' y.
	var a mat.Dense
	a.Mul(etaP.T(), hP)
	var aInv mat.Dense
	if err := aInv.Inverse(&a); err != nil {
		return nil, errors.DegenerateInference(
			"instrumented representation cross-moment matrix is singular")
	}
	var ety mat.VecDense
	ety.MulVec(etaP.T(), y)
	k := pca.NComponents() + 1
	beta := mat.NewVecDense(k, nil)
	beta.MulVec(&aInv, &ety)

	// Heteroskedasticity-robust sandwich covariance from the residuals
	// hP beta - y: aInv (etaP' diag(r^2) etaP) aInv'.
	var fitted mat.VecDense
	fitted.MulVec(hP, beta)
	meat := mat.NewDense(k, k, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		r := fitted.AtVec(i) - y.AtVec(i)
		r2 := r * r
		for c := 0; c < k; c++ {
			row[c] = etaP.At(i, c)
		}
		for a2 := 0; a2 < k; a2++ {
			for b2 := 0; b2 < k; b2++ {
				meat.Set(a2, b2, meat.At(a2, b2)+r2*row[a2]*row[b2])
			}
		}
	}
	var tmp, cov mat.Dense
	tmp.Mul(&aInv, meat)
	cov.Mul(&tmp, aInv.T())

	return &Inference{
		pca:     pca,
		beta:    beta,
		cov:     &cov,
		outcome: out,
		covars:  data.Covariates(),
	}, nil
}

func withIntercept(x *mat.Dense) *mat.Dense {
	n, k := x.Dims()
	out := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			out.Set(i, j+1, x.At(i, j))
		}
	}
	return out
}

// Beta returns a copy of the fitted coefficient vector (intercept
// first).
func (inf *Inference) Beta() []float64 {
	out := make([]float64, inf.beta.Len())
	for i := range out {
		out[i] = inf.beta.AtVec(i)
	}
	return out
}

func (inf *Inference) pointAndSE(x float64, covars []float64) (float64, float64) {
	proj := inf.pca.TransformVec(inf.outcome.Representation(x, covars))
	v := mat.NewVecDense(len(proj)+1, nil)
	v.SetVec(0, 1)
	for i, p := range proj {
		v.SetVec(i+1, p)
	}

	point := mat.Dot(v, inf.beta)

	var cv mat.VecDense
	cv.MulVec(inf.cov, v)
	variance := mat.Dot(v, &cv)
	if variance < seFloor {
		variance = seFloor
	}
	return point, math.Sqrt(variance)
}

// EffectWithInterval evaluates the structural function with an analytic
// Normal-quantile interval at the requested level.
func (inf *Inference) EffectWithInterval(x float64, covars []float64, alpha float64) (ports.EffectInterval, error) {
	if alpha <= 0 || alpha >= 1 {
		return ports.EffectInterval{}, errors.InvalidInput("interval level alpha must be in (0, 1)")
	}
	point, se := inf.pointAndSE(x, covars)
	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	return ports.EffectInterval{
		Lower: point - z*se,
		Point: point,
		Upper: point + z*se,
	}, nil
}

// Effect returns the point estimate.
func (inf *Inference) Effect(x float64, covars []float64) (float64, error) {
	point, _ := inf.pointAndSE(x, covars)
	return point, nil
}

// AvgEffect marginalizes the point estimate over the stored empirical
// covariate sample.
func (inf *Inference) AvgEffect(x float64) (float64, error) {
	if len(inf.covars) == 0 {
		return inf.Effect(x, nil)
	}
	total := 0.0
	for _, cv := range inf.covars {
		p, err := inf.Effect(x, cv)
		if err != nil {
			return 0, err
		}
		total += p
	}
	return total / float64(len(inf.covars)), nil
}

// ATE is the difference of averaged effects between two exposure
// values.
func (inf *Inference) ATE(x0, x1 float64) (float64, error) {
	y1, err := inf.AvgEffect(x1)
	if err != nil {
		return 0, err
	}
	y0, err := inf.AvgEffect(x0)
	if err != nil {
		return 0, err
	}
	return y1 - y0, nil
}
