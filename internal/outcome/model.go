package outcome

import (
	"fmt"
	"math"
	"math/rand"

	"ivquant/domain/dataset"
	"ivquant/domain/quantiles"
	"ivquant/internal/errors"
	"ivquant/internal/nn"
)

// Outcome variable types.
const (
	TypeContinuous = "continuous"
	TypeBinary     = "binary"
)

// Config describes the outcome model. Immutable, passed by value.
type Config struct {
	NCovariates     int     `json:"n_covariates"`
	Hidden          []int   `json:"hidden"`
	Activation      string  `json:"activation"`
	LearningRate    float64 `json:"learning_rate"`
	WeightDecay     float64 `json:"weight_decay"`
	InputBatchNorm  bool    `json:"input_batchnorm"`
	HiddenBatchNorm bool    `json:"hidden_batchnorm"`
	OutcomeType     string  `json:"outcome_type"`
	// SQR enables simultaneous quantile regression: the network takes a
	// sampled quantile level as an extra input and is trained with
	// pinball loss at that level.
	SQR  bool  `json:"sqr"`
	Seed int64 `json:"seed"`
}

// Validate fails fast on invalid outcome configurations.
func (c Config) Validate() error {
	if c.OutcomeType != TypeContinuous && c.OutcomeType != TypeBinary {
		return errors.ConfigInvalid(fmt.Sprintf("unknown outcome type %q", c.OutcomeType))
	}
	if c.SQR && c.OutcomeType == TypeBinary {
		return errors.ConfigInvalid("simultaneous quantile regression requires a continuous outcome")
	}
	if c.NCovariates < 0 {
		return errors.ConfigInvalid("covariate count must be non-negative")
	}
	return c.netConfig().Validate()
}

func (c Config) inputSize() int {
	size := 1 + c.NCovariates
	if c.SQR {
		size++
	}
	return size
}

func (c Config) netConfig() nn.Config {
	return nn.Config{
		InputSize:       c.inputSize(),
		Hidden:          c.Hidden,
		OutputSize:      1,
		Activation:      c.Activation,
		LearningRate:    c.LearningRate,
		WeightDecay:     c.WeightDecay,
		InputBatchNorm:  c.InputBatchNorm,
		HiddenBatchNorm: c.HiddenBatchNorm,
		Seed:            c.Seed,
	}
}

// Model is the stage-2 network. It approximates the structural function
// by averaging its sub-network over the plug-in exposure values coming
// from the frozen stage-1 model.
type Model struct {
	Net  *nn.Network
	Conf Config
}

// New builds an outcome model from a validated config.
func New(conf Config) (*Model, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	net, err := nn.NewNetwork(conf.netConfig())
	if err != nil {
		return nil, err
	}
	return &Model{Net: net, Conf: conf}, nil
}

func (m *Model) input(x float64, covars []float64, tau float64) []float64 {
	in := make([]float64, 0, m.Conf.inputSize())
	in = append(in, x)
	in = append(in, covars...)
	if m.Conf.SQR {
		in = append(in, tau)
	}
	return in
}

// XToY evaluates the raw sub-network at an exposure value. For binary
// outcomes the result is a logit; for SQR models tau selects the
// predicted conditional quantile.
func (m *Model) XToY(x float64, covars []float64, tau float64) float64 {
	return m.Net.Forward(m.input(x, covars, tau))[0]
}

// Effect is the structural-function point evaluation: the probability
// scale for binary outcomes, the conditional median for SQR models.
func (m *Model) Effect(x float64, covars []float64) float64 {
	y := m.XToY(x, covars, 0.5)
	if m.Conf.OutcomeType == TypeBinary {
		return nn.Sigmoid(y)
	}
	return y
}

// EffectBand returns the SQR model's predicted [alpha/2, 1-alpha/2]
// band plus the median at an exposure value.
func (m *Model) EffectBand(x float64, covars []float64, alpha float64) (lo, mid, hi float64) {
	lo = m.XToY(x, covars, alpha/2)
	mid = m.XToY(x, covars, 0.5)
	hi = m.XToY(x, covars, 1-alpha/2)
	return lo, mid, hi
}

// PlugIn averages the sub-network over the plug-in exposure values, one
// per quantile level of the frozen stage-1 model.
func (m *Model) PlugIn(xhats, covars []float64, tau float64) float64 {
	total := 0.0
	for _, xh := range xhats {
		total += m.Net.Forward(m.input(xh, covars, tau))[0]
	}
	return total / float64(len(xhats))
}

// Representation returns the penultimate activations for one
// (exposure, covariates) input. SQR models are evaluated at the median.
func (m *Model) Representation(x float64, covars []float64) []float64 {
	return m.Net.Representation(m.input(x, covars, 0.5))
}

// RepresentationSize is the width of the penultimate layer.
func (m *Model) RepresentationSize() int { return m.Net.RepresentationSize() }

// TrainBatch performs one optimization step. xhats carries the frozen
// exposure model's quantile predictions per sample; no gradient flows
// into stage 1. rng drives the per-sample quantile resampling in SQR
// mode.
func (m *Model) TrainBatch(batch []dataset.Sample, xhats [][]float64, rng *rand.Rand) float64 {
	total := 0.0
	for i, s := range batch {
		nq := len(xhats[i])
		tau := 0.5
		if m.Conf.SQR {
			tau = rng.Float64()
		}

		outs := make([]float64, nq)
		backs := make([]func([]float64) []float64, nq)
		yhat := 0.0
		for j, xh := range xhats[i] {
			out, back := m.Net.TrainForward(m.input(xh, s.Covariates, tau))
			outs[j] = out[0]
			backs[j] = back
			yhat += out[0] / float64(nq)
		}

		loss, dYhat := m.lossAndGrad(s.Y, yhat, tau)
		total += loss
		d := []float64{dYhat / float64(nq)}
		for _, back := range backs {
			back(d)
		}
	}
	m.Net.Step(len(batch))
	return total / float64(len(batch))
}

func (m *Model) lossAndGrad(y, yhat, tau float64) (float64, float64) {
	switch {
	case m.Conf.SQR:
		return quantiles.PinballLoss(tau, y, yhat), quantiles.PinballGrad(tau, y, yhat)
	case m.Conf.OutcomeType == TypeBinary:
		// Cross-entropy on the logit, in the numerically stable form.
		p := nn.Sigmoid(yhat)
		loss := math.Max(yhat, 0) - yhat*y + math.Log(1+math.Exp(-math.Abs(yhat)))
		return loss, p - y
	default:
		d := yhat - y
		return d * d, 2 * d
	}
}

// sqrEvalTaus is the fixed grid used for the monitored validation loss
// in SQR mode, keeping checkpoint selection deterministic.
var sqrEvalTaus = []float64{0.1, 0.3, 0.5, 0.7, 0.9}

// Loss evaluates the monitored loss without updating parameters.
func (m *Model) Loss(batch []dataset.Sample, xhats [][]float64) float64 {
	total := 0.0
	for i, s := range batch {
		if m.Conf.SQR {
			for _, tau := range sqrEvalTaus {
				yhat := m.PlugIn(xhats[i], s.Covariates, tau)
				total += quantiles.PinballLoss(tau, s.Y, yhat) / float64(len(sqrEvalTaus))
			}
			continue
		}
		yhat := m.PlugIn(xhats[i], s.Covariates, 0.5)
		loss, _ := m.lossAndGrad(s.Y, yhat, 0.5)
		total += loss
	}
	return total / float64(len(batch))
}

// SnapshotWeights captures the current parameters.
func (m *Model) SnapshotWeights() []byte { return m.Net.SnapshotWeights() }

// RestoreWeights restores parameters from a snapshot.
func (m *Model) RestoreWeights(b []byte) error { return m.Net.RestoreWeights(b) }
