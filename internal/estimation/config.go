package estimation

import (
	"ivquant/internal/conformal"
	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/linear"
	"ivquant/internal/outcome"
)

// StageConfig controls one training stage's optimization loop.
type StageConfig struct {
	BatchSize int `json:"batch_size"`
	MaxEpochs int `json:"max_epochs"`
	// Patience is the number of epochs without validation improvement
	// tolerated before the stage stops early. The best checkpoint by
	// monitored metric is kept either way.
	Patience int `json:"patience"`
}

// Validate fails fast on invalid stage settings.
func (c StageConfig) Validate() error {
	if c.BatchSize < 1 {
		return errors.ConfigInvalid("batch size must be positive")
	}
	if c.MaxEpochs < 1 {
		return errors.ConfigInvalid("max epochs must be positive")
	}
	if c.Patience < 1 {
		return errors.ConfigInvalid("patience must be positive")
	}
	return nil
}

// Config is the full two-stage fit configuration: one immutable struct
// per model and per stage, plus the derived-artifact switches.
type Config struct {
	Exposure             exposure.Config `json:"exposure"`
	Outcome              outcome.Config  `json:"outcome"`
	ExposureStage        StageConfig     `json:"exposure_stage"`
	OutcomeStage         StageConfig     `json:"outcome_stage"`
	ValidationProportion float64         `json:"validation_proportion"`
	Conformal            conformal.Config `json:"conformal"`
	LinearInference      bool            `json:"linear_inference"`
	Linear               linear.Config   `json:"linear"`
	Resample             bool            `json:"resample"`
	Seed                 int64           `json:"seed"`
}

// DefaultConfig mirrors the reference hyperparameters for the quantile
// IV procedure.
func DefaultConfig() Config {
	return Config{
		Exposure: exposure.Config{
			NQuantiles:      5,
			Hidden:          []int{128, 64},
			Activation:      "gelu",
			LearningRate:    5e-4,
			WeightDecay:     1e-4,
			HiddenBatchNorm: true,
			PenaltyLambda:   1,
		},
		Outcome: outcome.Config{
			Hidden:       []int{64, 32},
			Activation:   "gelu",
			LearningRate: 5e-4,
			WeightDecay:  1e-4,
			OutcomeType:  outcome.TypeContinuous,
		},
		ExposureStage:        StageConfig{BatchSize: 10000, MaxEpochs: 1000, Patience: 20},
		OutcomeStage:         StageConfig{BatchSize: 10000, MaxEpochs: 1000, Patience: 20},
		ValidationProportion: 0.2,
		Conformal:            conformal.Config{Score: conformal.ScoreNone, Alpha: 0.1},
		Linear:               linear.Config{VarianceThreshold: linear.DefaultVarianceThreshold},
		Seed:                 42,
	}
}

// Validate checks every nested config before any training begins.
func (c Config) Validate() error {
	if err := c.Exposure.Validate(); err != nil {
		return err
	}
	if err := c.Outcome.Validate(); err != nil {
		return err
	}
	if err := c.ExposureStage.Validate(); err != nil {
		return err
	}
	if err := c.OutcomeStage.Validate(); err != nil {
		return err
	}
	if c.ValidationProportion <= 0 || c.ValidationProportion >= 1 {
		return errors.ConfigInvalid("validation proportion must be in (0, 1)")
	}
	if err := c.Conformal.Validate(); err != nil {
		return err
	}
	if c.Conformal.Score == conformal.ScoreSQR && !c.Outcome.SQR {
		return errors.ConfigInvalid("sqr conformal score requires an SQR outcome model")
	}
	return nil
}
