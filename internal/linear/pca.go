package linear

import (
	"gonum.org/v1/gonum/mat"

	"ivquant/internal/errors"
)

// PCA is a variance-preserving principal component projection fitted on
// the averaged representation matrix. Immutable once fitted.
type PCA struct {
	Mean       []float64
	Components *mat.Dense // d x k, columns are principal directions
}

// FitPCA centers the rows of x and keeps the smallest number of
// components whose cumulative explained variance reaches threshold.
func FitPCA(x *mat.Dense, threshold float64) (*PCA, error) {
	n, d := x.Dims()
	if n < 2 {
		return nil, errors.InvalidInput("PCA needs at least two rows")
	}

	mean := make([]float64, d)
	for j := 0; j < d; j++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += x.At(i, j)
		}
		mean[j] = s / float64(n)
	}
	centered := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			centered.Set(i, j, x.At(i, j)-mean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, errors.DegenerateInference("SVD of representation matrix failed to converge")
	}
	sv := svd.Values(nil)

	total := 0.0
	for _, s := range sv {
		total += s * s
	}
	if total == 0 {
		return nil, errors.DegenerateInference("representation matrix has zero variance")
	}
	k := 0
	cum := 0.0
	for _, s := range sv {
		k++
		cum += s * s
		if cum/total >= threshold {
			break
		}
	}

	var v mat.Dense
	svd.VTo(&v)
	components := mat.DenseCopyOf(v.Slice(0, d, 0, k))
	return &PCA{Mean: mean, Components: components}, nil
}

// NComponents returns the retained component count.
func (p *PCA) NComponents() int {
	_, k := p.Components.Dims()
	return k
}

// Transform projects rows of x onto the retained components.
func (p *PCA) Transform(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	centered := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			centered.Set(i, j, x.At(i, j)-p.Mean[j])
		}
	}
	var out mat.Dense
	out.Mul(centered, p.Components)
	return &out
}

// TransformVec projects a single representation vector.
func (p *PCA) TransformVec(v []float64) []float64 {
	x := mat.NewDense(1, len(v), append([]float64(nil), v...))
	out := p.Transform(x)
	k := p.NComponents()
	res := make([]float64, k)
	for j := 0; j < k; j++ {
		res[j] = out.At(0, j)
	}
	return res
}
