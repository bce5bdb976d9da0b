package nn

import (
	"fmt"

	"ivquant/internal/errors"
)

// Config describes a feed-forward network. Configs are immutable and
// passed by value; one config exists per model/stage.
type Config struct {
	InputSize       int     `json:"input_size"`
	Hidden          []int   `json:"hidden"`
	OutputSize      int     `json:"output_size"`
	Activation      string  `json:"activation"`
	LearningRate    float64 `json:"learning_rate"`
	WeightDecay     float64 `json:"weight_decay"`
	InputBatchNorm  bool    `json:"input_batchnorm"`
	HiddenBatchNorm bool    `json:"hidden_batchnorm"`
	Seed            int64   `json:"seed"`
}

// Validate fails fast on configuration errors before any training.
func (c Config) Validate() error {
	if c.InputSize < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("input size must be positive, got %d", c.InputSize))
	}
	if c.OutputSize < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("output size must be positive, got %d", c.OutputSize))
	}
	if len(c.Hidden) == 0 {
		return errors.ConfigInvalid("at least one hidden layer width is required")
	}
	for _, h := range c.Hidden {
		if h < 1 {
			return errors.ConfigInvalid(fmt.Sprintf("hidden layer width must be positive, got %d", h))
		}
	}
	if _, ok := activations[c.Activation]; !ok {
		return errors.ConfigInvalid(fmt.Sprintf("unknown activation %q", c.Activation))
	}
	if c.LearningRate <= 0 {
		return errors.ConfigInvalid("learning rate must be positive")
	}
	if c.WeightDecay < 0 {
		return errors.ConfigInvalid("weight decay must be non-negative")
	}
	return nil
}
