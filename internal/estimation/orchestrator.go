package estimation

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ivquant/domain/dataset"
	"ivquant/domain/quantiles"
	"ivquant/internal"
	"ivquant/internal/artifacts"
	"ivquant/internal/conformal"
	"ivquant/internal/errors"
	"ivquant/internal/exposure"
	"ivquant/internal/linear"
	"ivquant/internal/outcome"
	"ivquant/ports"
)

// State is the orchestrator's position in the two-stage procedure.
type State int

const (
	StateInit State = iota
	StateFitExposure
	StateFreezeExposure
	StateFitOutcome
	StateCalibrate
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFitExposure:
		return "fit_exposure"
	case StateFreezeExposure:
		return "freeze_exposure"
	case StateFitOutcome:
		return "fit_outcome"
	case StateCalibrate:
		return "calibrate"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Orchestrator runs the sequential two-stage fit:
// Init -> FitExposure -> FreezeExposure -> FitOutcome -> [Calibrate] -> Ready.
// Stage 2 consumes the frozen stage-1 quantile outputs as derived
// features; no gradient ever flows back into the exposure model.
type Orchestrator struct {
	conf  Config
	log   *internal.Logger
	sink  ports.RunSinkPort
	state State
	runID string
}

// NewOrchestrator validates the full configuration before any training.
func NewOrchestrator(conf Config, log *internal.Logger, sink ports.RunSinkPort) (*Orchestrator, error) {
	if log == nil {
		log = internal.DefaultLogger.Named("estimation")
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Orchestrator{conf: conf, log: log, sink: sink, state: StateInit}, nil
}

type noopSink struct{}

func (noopSink) RunStarted(string, map[string]interface{}) {}
func (noopSink) Metric(string, string, int, float64)       {}
func (noopSink) RunFinished(string)                        {}

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) transition(s State) {
	o.log.Info("state %s -> %s", o.state, s)
	o.state = s
}

// Result is a finished fit: the frozen networks, derived artifacts, and
// the estimators built on top of them.
type Result struct {
	RunID       string
	Exposure    exposure.Model
	Outcome     *outcome.Model
	Calibration *conformal.Calibration
	Linear      *linear.Inference
	Meta        artifacts.Meta
	Covars      [][]float64
}

// PlugIn returns the direct plug-in estimator.
func (r *Result) PlugIn() *PlugInEstimator {
	return &PlugInEstimator{Exposure: r.Exposure, Outcome: r.Outcome, Covars: r.Covars}
}

// SQR returns the conformal-calibrated estimator when calibration ran.
func (r *Result) SQR() (*SQREstimator, bool) {
	if r.Calibration == nil {
		return nil, false
	}
	return &SQREstimator{PlugInEstimator: *r.PlugIn(), Calibration: *r.Calibration}, true
}

// Estimator returns the most informative available inference path:
// linear-PCA, then SQR+conformal, then point plug-in.
func (r *Result) Estimator() ports.EstimatorPort {
	if r.Linear != nil {
		return r.Linear
	}
	if sqr, ok := r.SQR(); ok {
		return sqr
	}
	return r.PlugIn()
}

// Save persists the run's artifacts into dir.
func (r *Result) Save(dir string) error {
	return artifacts.Save(dir, r.Meta, r.Exposure, r.Outcome, r.Covars)
}

// FromResults reloads a persisted run and rebinds the estimators.
func FromResults(dir string) (*Result, error) {
	run, err := artifacts.Load(dir)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:       run.Meta.RunID,
		Exposure:    run.Exposure,
		Outcome:     run.Outcome,
		Calibration: run.Meta.Calibration,
		Meta:        run.Meta,
		Covars:      run.Covars,
	}, nil
}

func collectSamples(data ports.DatasetPort) []dataset.Sample {
	out := make([]dataset.Sample, data.Len())
	for i := range out {
		out[i] = data.Sample(i)
	}
	return out
}

func resampleSamples(samples []dataset.Sample, rng *rand.Rand) []dataset.Sample {
	out := make([]dataset.Sample, len(samples))
	for i := range out {
		out[i] = samples[rng.Intn(len(samples))]
	}
	return out
}

func splitSamples(samples []dataset.Sample, proportion float64, rng *rand.Rand) (train, val []dataset.Sample, err error) {
	n := len(samples)
	nVal := int(float64(n) * proportion)
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= n {
		return nil, nil, errors.InvalidInput("dataset too small to split for validation")
	}
	perm := rng.Perm(n)
	val = make([]dataset.Sample, 0, nVal)
	train = make([]dataset.Sample, 0, n-nVal)
	for i, p := range perm {
		if i < nVal {
			val = append(val, samples[p])
		} else {
			train = append(train, samples[p])
		}
	}
	return train, val, nil
}

// Fit runs the full procedure. stage2 optionally replaces the dataset
// used for the outcome stage; it must share the covariate schema of the
// stage-1 data. Cancelling ctx stops training early; the best
// checkpoint so far is kept, so an interrupted fit still yields a
// usable model.
func (o *Orchestrator) Fit(ctx context.Context, data ports.DatasetPort, stage2 ports.DatasetPort) (*Result, error) {
	conf := o.conf
	conf.Exposure.InputSize = data.NExog()
	conf.Outcome.NCovariates = data.NCovariates()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if stage2 != nil {
		if stage2.NCovariates() != data.NCovariates() {
			return nil, errors.InvalidInput("stage-2 dataset covariate schema does not match stage 1")
		}
		l1, l2 := data.CovariableLabels(), stage2.CovariableLabels()
		if len(l1) != len(l2) {
			return nil, errors.InvalidInput("stage-2 dataset covariate schema does not match stage 1")
		}
		for i := range l1 {
			if l1[i] != l2[i] {
				return nil, errors.InvalidInput("stage-2 dataset covariate schema does not match stage 1")
			}
		}
	}

	// Time-ordered run ids; fall back to v4 if v7 generation fails.
	runID, err := uuid.NewV7()
	if err != nil {
		runID = uuid.New()
	}
	o.runID = runID.String()
	o.sink.RunStarted(o.runID, map[string]interface{}{
		"model":       "quantile_iv",
		"n_quantiles": conf.Exposure.NQuantiles,
		"monotonic":   conf.Exposure.Monotonic,
		"sqr":         conf.Outcome.SQR,
		"n_samples":   data.Len(),
	})
	defer o.sink.RunFinished(o.runID)

	rng := rand.New(rand.NewSource(conf.Seed))
	samples := collectSamples(data)
	if conf.Resample {
		o.log.Info("bootstrap resampling %d samples", len(samples))
		samples = resampleSamples(samples, rng)
	}
	train, val, err := splitSamples(samples, conf.ValidationProportion, rng)
	if err != nil {
		return nil, err
	}

	s2train, s2val := train, val
	if stage2 != nil {
		s2samples := collectSamples(stage2)
		if conf.Resample {
			s2samples = resampleSamples(s2samples, rng)
		}
		s2train, s2val, err = splitSamples(s2samples, conf.ValidationProportion, rng)
		if err != nil {
			return nil, err
		}
	}

	// Stage 1.
	o.transition(StateFitExposure)
	expModel, err := exposure.New(conf.Exposure)
	if err != nil {
		return nil, err
	}
	expValLoss, err := o.trainLoop(ctx, "exposure", len(train), conf.ExposureStage,
		func(idx []int) float64 { return expModel.TrainBatch(gather(train, idx)) },
		func() float64 { return expModel.Loss(val) },
		expModel.SnapshotWeights, expModel.RestoreWeights)
	if err != nil {
		return nil, err
	}
	o.log.Info("exposure model selected at validation loss %.6f", expValLoss)

	o.transition(StateFreezeExposure)
	o.logCrossing(expModel, val)

	// Stage 2: the frozen exposure outputs are fixed derived features.
	o.transition(StateFitOutcome)
	outModel, err := outcome.New(conf.Outcome)
	if err != nil {
		return nil, err
	}
	trainXhats := predictAll(expModel, s2train)
	valXhats := predictAll(expModel, s2val)
	outRng := rand.New(rand.NewSource(conf.Seed + 7919))
	outValLoss, err := o.trainLoop(ctx, "outcome", len(s2train), conf.OutcomeStage,
		func(idx []int) float64 {
			batch := gather(s2train, idx)
			xh := gatherXhats(trainXhats, idx)
			return outModel.TrainBatch(batch, xh, outRng)
		},
		func() float64 { return outModel.Loss(s2val, valXhats) },
		outModel.SnapshotWeights, outModel.RestoreWeights)
	if err != nil {
		return nil, err
	}
	o.log.Info("outcome model selected at validation loss %.6f", outValLoss)

	// Derived artifacts both read the finished models without mutation,
	// so they can run concurrently.
	var cal *conformal.Calibration
	var lin *linear.Inference
	var g errgroup.Group
	if conf.Conformal.Score == conformal.ScoreSQR {
		o.transition(StateCalibrate)
		g.Go(func() error {
			c, err := conformal.Calibrate(
				sqrBand{out: outModel}, s2val, conf.Conformal)
			if err != nil {
				return err
			}
			cal = &c
			return nil
		})
	}
	if conf.LinearInference {
		g.Go(func() error {
			l, err := linear.Fit(expModel, outModel, data, conf.Linear)
			if err != nil {
				return err
			}
			lin = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if cal != nil {
		o.log.Info("conformal adjustment qhat=%.6f at alpha=%.3f", cal.Qhat, cal.Alpha)
	}

	o.transition(StateReady)
	meta := artifacts.Meta{
		Model:            "quantile_iv",
		RunID:            o.runID,
		CreatedAt:        time.Now().UTC(),
		Exposure:         conf.Exposure,
		Outcome:          conf.Outcome,
		ExposureValLoss:  expValLoss,
		OutcomeValLoss:   outValLoss,
		Calibration:      cal,
		Stats:            data.ExposureDescriptiveStatistics(),
		CovariableLabels: data.CovariableLabels(),
	}
	return &Result{
		RunID:       o.runID,
		Exposure:    expModel,
		Outcome:     outModel,
		Calibration: cal,
		Linear:      lin,
		Meta:        meta,
		Covars:      data.Covariates(),
	}, nil
}

func gather(samples []dataset.Sample, idx []int) []dataset.Sample {
	out := make([]dataset.Sample, len(idx))
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

func gatherXhats(xhats [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = xhats[j]
	}
	return out
}

func predictAll(m exposure.Model, samples []dataset.Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = m.Predict(s.Exog())
	}
	return out
}

func (o *Orchestrator) logCrossing(m exposure.Model, val []dataset.Sample) {
	preds := predictAll(m, val)
	frac := quantiles.CrossingFraction(preds)
	if frac > 0 {
		o.log.Warn("quantile crossing on %.2f%% of adjacent validation pairs", frac*100)
	} else {
		o.log.Debug("no quantile crossing on validation data")
	}
}

// trainLoop is the shared stage optimizer: epoch passes over shuffled
// mini-batches with best-checkpoint selection on the monitored
// validation metric. Non-convergence is not fatal; the best snapshot so
// far is always restored.
func (o *Orchestrator) trainLoop(
	ctx context.Context,
	name string,
	n int,
	stage StageConfig,
	trainBatch func(idx []int) float64,
	valLoss func() float64,
	snapshot func() []byte,
	restore func([]byte) error,
) (float64, error) {
	rng := rand.New(rand.NewSource(o.conf.Seed + int64(len(name))))
	idx := rng.Perm(n)

	best := math.Inf(1)
	var bestSnap []byte
	sinceBest := 0

epochs:
	for epoch := 0; epoch < stage.MaxEpochs; epoch++ {
		select {
		case <-ctx.Done():
			o.log.Warn("%s fit interrupted at epoch %d; keeping best checkpoint", name, epoch)
			break epochs
		default:
		}

		rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		trainTotal, batches := 0.0, 0
		for start := 0; start < n; start += stage.BatchSize {
			end := start + stage.BatchSize
			if end > n {
				end = n
			}
			trainTotal += trainBatch(idx[start:end])
			batches++
		}

		vl := valLoss()
		o.sink.Metric(o.runID, name+"_train_loss", epoch, trainTotal/float64(batches))
		o.sink.Metric(o.runID, name+"_val_loss", epoch, vl)
		o.log.Debug("%s epoch %d train=%.6f val=%.6f", name, epoch, trainTotal/float64(batches), vl)

		if vl < best {
			best = vl
			bestSnap = snapshot()
			sinceBest = 0
		} else {
			sinceBest++
			if sinceBest >= stage.Patience {
				o.log.Info("%s fit stopping early at epoch %d", name, epoch)
				break
			}
		}
	}

	if bestSnap == nil {
		return best, errors.InternalError(name + " fit produced no checkpoint")
	}
	if err := restore(bestSnap); err != nil {
		return best, err
	}
	return best, nil
}
