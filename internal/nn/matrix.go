package nn

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"ivquant/internal/errors"
)

// Matrix is a standalone trainable parameter matrix with its own Adam
// state, for model heads that are not plain dense layers (the monotonic
// exposure model's increment matrix).
type Matrix struct {
	w [][]float64
	g [][]float64
	m [][]float64
	v [][]float64
	t int
}

// NewMatrix builds a rows x cols parameter matrix with uniform
// initialization scaled by fan-in.
func NewMatrix(rows, cols int, rng *rand.Rand) *Matrix {
	limit := math.Sqrt(6.0 / float64(cols+rows))
	mx := &Matrix{
		w: make([][]float64, rows),
		g: make([][]float64, rows),
		m: make([][]float64, rows),
		v: make([][]float64, rows),
	}
	for r := 0; r < rows; r++ {
		mx.w[r] = make([]float64, cols)
		mx.g[r] = make([]float64, cols)
		mx.m[r] = make([]float64, cols)
		mx.v[r] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			mx.w[r][c] = (rng.Float64()*2 - 1) * limit
		}
	}
	return mx
}

// Rows returns the row count.
func (mx *Matrix) Rows() int { return len(mx.w) }

// Cols returns the column count.
func (mx *Matrix) Cols() int {
	if len(mx.w) == 0 {
		return 0
	}
	return len(mx.w[0])
}

// At reads one parameter.
func (mx *Matrix) At(r, c int) float64 { return mx.w[r][c] }

// AddGrad accumulates into the gradient of one parameter.
func (mx *Matrix) AddGrad(r, c int, g float64) { mx.g[r][c] += g }

// Step applies one Adam update averaged over batchSize samples and
// clears the accumulated gradients.
func (mx *Matrix) Step(lr, wd float64, batchSize int) {
	mx.t++
	inv := 1.0 / float64(batchSize)
	c1 := 1 - math.Pow(adamBeta1, float64(mx.t))
	c2 := 1 - math.Pow(adamBeta2, float64(mx.t))
	for r := range mx.w {
		for c := range mx.w[r] {
			g := mx.g[r][c]*inv + wd*mx.w[r][c]
			mx.m[r][c] = adamBeta1*mx.m[r][c] + (1-adamBeta1)*g
			mx.v[r][c] = adamBeta2*mx.v[r][c] + (1-adamBeta2)*g*g
			mx.w[r][c] -= lr * (mx.m[r][c] / c1) / (math.Sqrt(mx.v[r][c]/c2) + adamEps)
			mx.g[r][c] = 0
		}
	}
}

type matrixSnapshot struct {
	W [][]float64
}

// SnapshotWeights serializes the parameter values.
func (mx *Matrix) SnapshotWeights() []byte {
	s := matrixSnapshot{W: make([][]float64, len(mx.w))}
	for r := range mx.w {
		s.W[r] = append([]float64(nil), mx.w[r]...)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// RestoreWeights loads values from SnapshotWeights.
func (mx *Matrix) RestoreWeights(b []byte) error {
	var s matrixSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return errors.Wrap(err, "decoding matrix snapshot")
	}
	if len(s.W) != len(mx.w) {
		return errors.CheckpointMismatch("matrix shape does not match")
	}
	for r := range s.W {
		if len(s.W[r]) != len(mx.w[r]) {
			return errors.CheckpointMismatch("matrix shape does not match")
		}
		copy(mx.w[r], s.W[r])
	}
	return nil
}

// GobEncode persists the matrix with its shape.
func (mx *Matrix) GobEncode() ([]byte, error) {
	return mx.SnapshotWeights(), nil
}

// GobDecode rebuilds the matrix from persisted values.
func (mx *Matrix) GobDecode(b []byte) error {
	var s matrixSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return errors.Wrap(err, "decoding matrix")
	}
	rows := len(s.W)
	cols := 0
	if rows > 0 {
		cols = len(s.W[0])
	}
	rebuilt := NewMatrix(rows, cols, rand.New(rand.NewSource(0)))
	*mx = *rebuilt
	for r := range s.W {
		copy(mx.w[r], s.W[r])
	}
	return nil
}
