package artifacts

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"ivquant/domain/dataset"
	"ivquant/internal/conformal"
	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/outcome"
)

// Persisted artifact layout. A fitted run is a directory containing the
// two network checkpoints, meta.json, and optionally the empirical
// covariate sample.
const (
	ExposureFile    = "exposure_network.gob"
	OutcomeFile     = "outcome_network.gob"
	MetaFile        = "meta.json"
	CovariablesFile = "covariables.gob"
)

// Meta is the metadata saved alongside the checkpoints: everything
// needed to rebuild the networks and to audit the fit.
type Meta struct {
	Model            string                 `json:"model"`
	RunID            string                 `json:"run_id"`
	CreatedAt        time.Time              `json:"created_at"`
	Exposure         exposure.Config        `json:"exposure"`
	Outcome          outcome.Config         `json:"outcome"`
	ExposureValLoss  float64                `json:"exposure_val_loss"`
	OutcomeValLoss   float64                `json:"outcome_val_loss"`
	Calibration      *conformal.Calibration `json:"calibration,omitempty"`
	Stats            dataset.ExposureStats  `json:"exposure_statistics"`
	CovariableLabels []string               `json:"covariable_labels,omitempty"`
}

// checkpoint pairs a model config with a weight snapshot so reloading
// is a deterministic rebuild-then-restore.
type exposureCheckpoint struct {
	Conf    exposure.Config
	Weights []byte
}

type outcomeCheckpoint struct {
	Conf    outcome.Config
	Weights []byte
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return nil
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	return nil
}

// Save persists a fitted run into dir, creating it if needed.
func Save(dir string, meta Meta, exp exposure.Model, out *outcome.Model, covars [][]float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %s", dir)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding meta.json")
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), metaBytes, 0o644); err != nil {
		return errors.Wrap(err, "writing meta.json")
	}

	if err := writeGob(filepath.Join(dir, ExposureFile), exposureCheckpoint{
		Conf:    meta.Exposure,
		Weights: exp.SnapshotWeights(),
	}); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, OutcomeFile), outcomeCheckpoint{
		Conf:    meta.Outcome,
		Weights: out.SnapshotWeights(),
	}); err != nil {
		return err
	}

	if covars != nil {
		if err := writeGob(filepath.Join(dir, CovariablesFile), covars); err != nil {
			return err
		}
	}
	return nil
}

// LoadedRun is a reloaded fit: read-only trained networks plus the
// metadata and optional covariate sample.
type LoadedRun struct {
	Meta     Meta
	Exposure exposure.Model
	Outcome  *outcome.Model
	Covars   [][]float64
}

// Load reads a persisted run. The load is two-phase by construction:
// the exposure network is rebuilt first from its own checkpoint, the
// outcome network second, and the two are only bound together when an
// estimator is constructed from the result. Shape disagreements between
// meta.json and the checkpoints are load-time failures.
func Load(dir string) (*LoadedRun, error) {
	metaBytes, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", MetaFile)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, errors.Wrap(err, "parsing meta.json")
	}

	var expCkpt exposureCheckpoint
	if err := readGob(filepath.Join(dir, ExposureFile), &expCkpt); err != nil {
		return nil, errors.Wrap(err, "loading exposure checkpoint")
	}
	if expCkpt.Conf.Monotonic != meta.Exposure.Monotonic ||
		expCkpt.Conf.NQuantiles != meta.Exposure.NQuantiles ||
		expCkpt.Conf.InputSize != meta.Exposure.InputSize {
		return nil, errors.CheckpointMismatch("exposure checkpoint disagrees with meta.json")
	}
	exp, err := exposure.New(expCkpt.Conf)
	if err != nil {
		return nil, err
	}
	if err := exp.RestoreWeights(expCkpt.Weights); err != nil {
		return nil, err
	}

	var outCkpt outcomeCheckpoint
	if err := readGob(filepath.Join(dir, OutcomeFile), &outCkpt); err != nil {
		return nil, errors.Wrap(err, "loading outcome checkpoint")
	}
	if outCkpt.Conf.NCovariates != meta.Outcome.NCovariates ||
		outCkpt.Conf.SQR != meta.Outcome.SQR {
		return nil, errors.CheckpointMismatch("outcome checkpoint disagrees with meta.json")
	}
	out, err := outcome.New(outCkpt.Conf)
	if err != nil {
		return nil, err
	}
	if err := out.RestoreWeights(outCkpt.Weights); err != nil {
		return nil, err
	}

	// Covariates are optional; absence means "no covariates".
	var covars [][]float64
	if err := readGob(filepath.Join(dir, CovariablesFile), &covars); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "loading covariables")
		}
		covars = nil
	}
	if covars != nil && len(covars) > 0 && len(covars[0]) != meta.Outcome.NCovariates {
		return nil, errors.CheckpointMismatch("persisted covariate width disagrees with meta.json")
	}

	return &LoadedRun{Meta: meta, Exposure: exp, Outcome: out, Covars: covars}, nil
}
