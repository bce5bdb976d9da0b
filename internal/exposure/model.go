package exposure

import (
	"math/rand"

	"ivquant/domain/dataset"
	"ivquant/domain/quantiles"
	"ivquant/internal/nn"
)

// Model predicts one exposure value per quantile level from the
// exogenous variables (instruments then covariates).
type Model interface {
	Quantiles() quantiles.Set
	// Predict returns n_quantiles exposure values for one exogenous
	// vector. The unconstrained variant may produce crossing quantiles.
	Predict(exog []float64) []float64
	// TrainBatch runs one optimization step over a mini-batch and
	// returns the training loss.
	TrainBatch(batch []dataset.Sample) float64
	// Loss evaluates the monitored loss without updating parameters.
	Loss(batch []dataset.Sample) float64
	Monotonic() bool
	SnapshotWeights() []byte
	RestoreWeights(b []byte) error
}

// New builds the configured exposure model variant.
func New(conf Config) (Model, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	set, err := quantiles.NewSet(conf.NQuantiles)
	if err != nil {
		return nil, err
	}
	net, err := nn.NewNetwork(conf.netConfig())
	if err != nil {
		return nil, err
	}
	if !conf.Monotonic {
		return &QuantileNet{Net: net, Levels: set.Levels()}, nil
	}
	rng := rand.New(rand.NewSource(conf.Seed + 1))
	width := conf.Hidden[len(conf.Hidden)-1]
	return &MonotonicNet{
		Trunk:         net,
		Deltas:        nn.NewMatrix(conf.NQuantiles, width+1, rng),
		Levels:        set.Levels(),
		PenaltyLambda: conf.PenaltyLambda,
		LearningRate:  conf.LearningRate,
		WeightDecay:   conf.WeightDecay,
	}, nil
}

// QuantileNet is the unconstrained exposure quantile model: a plain
// feed-forward net with one output per quantile level, trained with the
// probability-weighted pinball loss summed across levels.
type QuantileNet struct {
	Net    *nn.Network
	Levels []float64
}

// Quantiles returns the model's quantile set.
func (m *QuantileNet) Quantiles() quantiles.Set { return quantiles.FromLevels(m.Levels) }

// Monotonic reports the variant.
func (m *QuantileNet) Monotonic() bool { return false }

// Predict returns the quantile predictions for one exogenous vector.
func (m *QuantileNet) Predict(exog []float64) []float64 {
	return m.Net.Forward(exog)
}

// TrainBatch performs one Adam step on the summed pinball loss.
func (m *QuantileNet) TrainBatch(batch []dataset.Sample) float64 {
	set := m.Quantiles()
	grad := make([]float64, set.Len())
	total := 0.0
	for _, s := range batch {
		out, back := m.Net.TrainForward(s.Exog())
		total += set.MultiLoss(s.X, out)
		set.MultiGrad(s.X, out, grad)
		back(grad)
	}
	m.Net.Step(len(batch))
	return total / float64(len(batch))
}

// Loss evaluates the mean pinball loss on a batch.
func (m *QuantileNet) Loss(batch []dataset.Sample) float64 {
	set := m.Quantiles()
	total := 0.0
	for _, s := range batch {
		total += set.MultiLoss(s.X, m.Net.Forward(s.Exog()))
	}
	return total / float64(len(batch))
}

// SnapshotWeights captures the current parameters.
func (m *QuantileNet) SnapshotWeights() []byte { return m.Net.SnapshotWeights() }

// RestoreWeights restores parameters from a snapshot.
func (m *QuantileNet) RestoreWeights(b []byte) error { return m.Net.RestoreWeights(b) }

// MonotonicNet reparameterizes the quantile predictions to discourage
// crossing. The trunk's linear output is bounded to (0,1) by a sigmoid,
// an intercept entry is prepended, and the increment matrix is
// cumulatively summed over the quantile index, so predictions are
// nondecreasing whenever each increment row yields a nonnegative step.
// Increments are not hard-constrained; a hinge penalty on the
// worst-case negative step is added to the training loss instead.
type MonotonicNet struct {
	Trunk         *nn.Network
	Deltas        *nn.Matrix
	Levels        []float64
	PenaltyLambda float64
	LearningRate  float64
	WeightDecay   float64
}

// Quantiles returns the model's quantile set.
func (m *MonotonicNet) Quantiles() quantiles.Set { return quantiles.FromLevels(m.Levels) }

// Monotonic reports the variant.
func (m *MonotonicNet) Monotonic() bool { return true }

func (m *MonotonicNet) features(trunkOut []float64) []float64 {
	phi := make([]float64, len(trunkOut)+1)
	phi[0] = 1
	for j, z := range trunkOut {
		phi[j+1] = nn.Sigmoid(z)
	}
	return phi
}

func (m *MonotonicNet) predictFromFeatures(phi []float64) []float64 {
	nq := m.Deltas.Rows()
	preds := make([]float64, nq)
	// Running cumulative sum over quantile rows of the increment matrix.
	acc := make([]float64, m.Deltas.Cols())
	for k := 0; k < nq; k++ {
		v := 0.0
		for c := range acc {
			acc[c] += m.Deltas.At(k, c)
			v += phi[c] * acc[c]
		}
		preds[k] = v
	}
	return preds
}

// Predict returns the quantile predictions for one exogenous vector.
func (m *MonotonicNet) Predict(exog []float64) []float64 {
	return m.predictFromFeatures(m.features(m.Trunk.Forward(exog)))
}

// Penalty is the hinge on the worst-case negative increment of each
// quantile step beyond the first: with features in (0,1), the smallest
// possible step for row k is Deltas[k][0] minus the negative parts of
// the remaining row. The mean shortfall is returned.
func (m *MonotonicNet) Penalty() float64 {
	nq := m.Deltas.Rows()
	if nq < 2 {
		return 0
	}
	total := 0.0
	for k := 1; k < nq; k++ {
		neg := 0.0
		for c := 1; c < m.Deltas.Cols(); c++ {
			if w := m.Deltas.At(k, c); w < 0 {
				neg -= w
			}
		}
		if short := neg - m.Deltas.At(k, 0); short > 0 {
			total += short
		}
	}
	return total / float64(nq-1)
}

// accumulatePenaltyGrad adds the penalty subgradient, scaled so that the
// per-batch division inside Step cancels out (the penalty is a property
// of the parameters, not of the batch).
func (m *MonotonicNet) accumulatePenaltyGrad(batchSize int) {
	nq := m.Deltas.Rows()
	if nq < 2 || m.PenaltyLambda == 0 {
		return
	}
	scale := m.PenaltyLambda * float64(batchSize) / float64(nq-1)
	for k := 1; k < nq; k++ {
		neg := 0.0
		for c := 1; c < m.Deltas.Cols(); c++ {
			if w := m.Deltas.At(k, c); w < 0 {
				neg -= w
			}
		}
		if neg-m.Deltas.At(k, 0) <= 0 {
			continue
		}
		m.Deltas.AddGrad(k, 0, -scale)
		for c := 1; c < m.Deltas.Cols(); c++ {
			if m.Deltas.At(k, c) < 0 {
				m.Deltas.AddGrad(k, c, -scale)
			}
		}
	}
}

// TrainBatch performs one Adam step on pinball loss plus the weighted
// monotonicity penalty.
func (m *MonotonicNet) TrainBatch(batch []dataset.Sample) float64 {
	set := m.Quantiles()
	nq := m.Deltas.Rows()
	cols := m.Deltas.Cols()
	dq := make([]float64, nq)
	total := 0.0

	for _, s := range batch {
		trunkOut, back := m.Trunk.TrainForward(s.Exog())
		phi := m.features(trunkOut)
		preds := m.predictFromFeatures(phi)

		total += set.MultiLoss(s.X, preds)
		set.MultiGrad(s.X, preds, dq)

		// dL/dDeltas[i][c] = phi[c] * sum_{k>=i} dq[k]; suffix sums make
		// the cumulative-sum head cheap to differentiate.
		suffix := 0.0
		suffixes := make([]float64, nq)
		for k := nq - 1; k >= 0; k-- {
			suffix += dq[k]
			suffixes[k] = suffix
		}
		for i := 0; i < nq; i++ {
			for c := 0; c < cols; c++ {
				m.Deltas.AddGrad(i, c, suffixes[i]*phi[c])
			}
		}

		// dL/dphi[c] = sum_k dq[k] * beta_k[c] with beta the cumulative
		// rows; then through the sigmoid into the trunk.
		dTrunk := make([]float64, cols-1)
		acc := make([]float64, cols)
		for k := 0; k < nq; k++ {
			for c := 0; c < cols; c++ {
				acc[c] += m.Deltas.At(k, c)
			}
			for c := 1; c < cols; c++ {
				dTrunk[c-1] += dq[k] * acc[c]
			}
		}
		for j := range dTrunk {
			s := phi[j+1]
			dTrunk[j] *= s * (1 - s)
		}
		back(dTrunk)
	}

	m.accumulatePenaltyGrad(len(batch))
	m.Trunk.Step(len(batch))
	m.Deltas.Step(m.LearningRate, m.WeightDecay, len(batch))

	return total/float64(len(batch)) + m.PenaltyLambda*m.Penalty()
}

// Loss evaluates mean pinball loss plus the weighted penalty, matching
// the monitored training objective.
func (m *MonotonicNet) Loss(batch []dataset.Sample) float64 {
	set := m.Quantiles()
	total := 0.0
	for _, s := range batch {
		total += set.MultiLoss(s.X, m.Predict(s.Exog()))
	}
	return total/float64(len(batch)) + m.PenaltyLambda*m.Penalty()
}

type monotonicSnapshot struct {
	Trunk  []byte
	Deltas []byte
}

// SnapshotWeights captures trunk and increment-head parameters.
func (m *MonotonicNet) SnapshotWeights() []byte {
	return encodeSnapshot(monotonicSnapshot{
		Trunk:  m.Trunk.SnapshotWeights(),
		Deltas: m.Deltas.SnapshotWeights(),
	})
}

// RestoreWeights restores trunk and increment-head parameters.
func (m *MonotonicNet) RestoreWeights(b []byte) error {
	var s monotonicSnapshot
	if err := decodeSnapshot(b, &s); err != nil {
		return err
	}
	if err := m.Trunk.RestoreWeights(s.Trunk); err != nil {
		return err
	}
	return m.Deltas.RestoreWeights(s.Deltas)
}
