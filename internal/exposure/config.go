package exposure

import (
	"fmt"

	"ivquant/domain/quantiles"
	"ivquant/internal/errors"
	"ivquant/internal/nn"
)

// Config describes an exposure quantile model. Immutable, passed by
// value.
type Config struct {
	NQuantiles      int     `json:"n_quantiles"`
	InputSize       int     `json:"input_size"`
	Hidden          []int   `json:"hidden"`
	Activation      string  `json:"activation"`
	LearningRate    float64 `json:"learning_rate"`
	WeightDecay     float64 `json:"weight_decay"`
	InputBatchNorm  bool    `json:"input_batchnorm"`
	HiddenBatchNorm bool    `json:"hidden_batchnorm"`
	// Monotonic selects the reparameterized variant that discourages
	// quantile crossing by a cumulative-sum head plus a hinge penalty.
	Monotonic     bool    `json:"monotonic"`
	PenaltyLambda float64 `json:"penalty_lambda"`
	Seed          int64   `json:"seed"`
}

// Validate fails fast on bad configuration:
// too few quantiles, a monotonic net without a reparameterization head,
// an unknown activation.
func (c Config) Validate() error {
	if _, err := quantiles.NewSet(c.NQuantiles); err != nil {
		return err
	}
	if c.Monotonic && len(c.Hidden) < 2 {
		return errors.ConfigInvalid(fmt.Sprintf(
			"monotonic exposure model needs at least 2 hidden layer widths, got %d", len(c.Hidden)))
	}
	if c.Monotonic && c.PenaltyLambda < 0 {
		return errors.ConfigInvalid("monotonicity penalty lambda must be non-negative")
	}
	return c.netConfig().Validate()
}

func (c Config) netConfig() nn.Config {
	hidden := c.Hidden
	out := c.NQuantiles
	if c.Monotonic {
		// The trunk ends one layer early; its linear output feeds the
		// sigmoid-bounded representation consumed by the increment head.
		hidden = c.Hidden[:len(c.Hidden)-1]
		out = c.Hidden[len(c.Hidden)-1]
	}
	return nn.Config{
		InputSize:       c.InputSize,
		Hidden:          hidden,
		OutputSize:      out,
		Activation:      c.Activation,
		LearningRate:    c.LearningRate,
		WeightDecay:     c.WeightDecay,
		InputBatchNorm:  c.InputBatchNorm,
		HiddenBatchNorm: c.HiddenBatchNorm,
		Seed:            c.Seed,
	}
}
