package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ivquant/adapters/ivdata"
	"ivquant/adapters/telemetry"
	"ivquant/internal"
	"ivquant/internal/errors"
	"ivquant/internal/estimation"
	"ivquant/ports"
)

type dataFlags struct {
	path        string
	sheet       string
	exposureCol string
	outcomeCol  string
	instruments []string
	covariates  []string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "data", "", "input dataset (.csv or .xlsx)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "worksheet name for xlsx input (default first sheet)")
	cmd.Flags().StringVar(&f.exposureCol, "exposure-col", "x", "exposure column name")
	cmd.Flags().StringVar(&f.outcomeCol, "outcome-col", "y", "outcome column name")
	cmd.Flags().StringSliceVar(&f.instruments, "instruments", nil, "instrument column names")
	cmd.Flags().StringSliceVar(&f.covariates, "covariates", nil, "covariate column names")
	cmd.MarkFlagRequired("data")
}

func (f *dataFlags) columns() ivdata.Columns {
	return ivdata.Columns{
		Exposure:    f.exposureCol,
		Outcome:     f.outcomeCol,
		Instruments: f.instruments,
		Covariates:  f.covariates,
	}
}

func newFitCmd() *cobra.Command {
	conf := estimation.DefaultConfig()
	var (
		data       dataFlags
		stage2Path string
		outputDir  string
		sink       string
		points     int
		batchSize  int
		maxEpochs  int
		patience   int
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the two-stage quantile IV model and write run artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf.ExposureStage = estimation.StageConfig{BatchSize: batchSize, MaxEpochs: maxEpochs, Patience: patience}
			conf.OutcomeStage = conf.ExposureStage
			return runFit(cmd.Context(), conf, data, stage2Path, outputDir, sink, points)
		},
	}

	data.register(cmd)
	cmd.Flags().StringVar(&stage2Path, "stage2-data", "", "optional second dataset for the outcome stage (two-sample design)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "ivquant_results", "directory for run artifacts")
	cmd.Flags().StringVar(&sink, "telemetry", "log", "training telemetry sink: log, file or none")
	cmd.Flags().IntVar(&points, "curve-points", 200, "points on the exported dose-response curve")

	cmd.Flags().IntVar(&conf.Exposure.NQuantiles, "quantiles", conf.Exposure.NQuantiles, "number of exposure quantiles")
	cmd.Flags().IntSliceVar(&conf.Exposure.Hidden, "exposure-hidden", conf.Exposure.Hidden, "exposure network hidden layer widths")
	cmd.Flags().StringVar(&conf.Exposure.Activation, "exposure-activation", conf.Exposure.Activation, "exposure network activation")
	cmd.Flags().Float64Var(&conf.Exposure.LearningRate, "exposure-lr", conf.Exposure.LearningRate, "exposure learning rate")
	cmd.Flags().Float64Var(&conf.Exposure.WeightDecay, "exposure-wd", conf.Exposure.WeightDecay, "exposure weight decay")
	cmd.Flags().BoolVar(&conf.Exposure.InputBatchNorm, "exposure-input-norm", conf.Exposure.InputBatchNorm, "normalize exposure network inputs")
	cmd.Flags().BoolVar(&conf.Exposure.HiddenBatchNorm, "exposure-hidden-norm", conf.Exposure.HiddenBatchNorm, "normalize exposure hidden activations")
	cmd.Flags().BoolVar(&conf.Exposure.Monotonic, "monotonic", conf.Exposure.Monotonic, "use the non-crossing monotonic quantile head")
	cmd.Flags().Float64Var(&conf.Exposure.PenaltyLambda, "penalty-lambda", conf.Exposure.PenaltyLambda, "monotonicity penalty weight")

	cmd.Flags().IntSliceVar(&conf.Outcome.Hidden, "outcome-hidden", conf.Outcome.Hidden, "outcome network hidden layer widths")
	cmd.Flags().StringVar(&conf.Outcome.Activation, "outcome-activation", conf.Outcome.Activation, "outcome network activation")
	cmd.Flags().Float64Var(&conf.Outcome.LearningRate, "outcome-lr", conf.Outcome.LearningRate, "outcome learning rate")
	cmd.Flags().Float64Var(&conf.Outcome.WeightDecay, "outcome-wd", conf.Outcome.WeightDecay, "outcome weight decay")
	cmd.Flags().StringVar(&conf.Outcome.OutcomeType, "outcome-type", conf.Outcome.OutcomeType, "outcome type: continuous or binary")
	cmd.Flags().BoolVar(&conf.Outcome.SQR, "sqr", conf.Outcome.SQR, "train the outcome model with simultaneous quantile regression")

	cmd.Flags().IntVar(&batchSize, "batch-size", conf.ExposureStage.BatchSize, "mini-batch size for both stages")
	cmd.Flags().IntVar(&maxEpochs, "max-epochs", conf.ExposureStage.MaxEpochs, "maximum epochs for both stages")
	cmd.Flags().IntVar(&patience, "patience", conf.ExposureStage.Patience, "early stopping patience for both stages")
	cmd.Flags().Float64Var(&conf.ValidationProportion, "validation-proportion", conf.ValidationProportion, "fraction of samples held out for validation")

	cmd.Flags().StringVar(&conf.Conformal.Score, "conformal-score", conf.Conformal.Score, "conformal score kind: none or sqr")
	cmd.Flags().Float64Var(&conf.Conformal.Alpha, "alpha", conf.Conformal.Alpha, "interval miscoverage level")
	cmd.Flags().BoolVar(&conf.LinearInference, "linear-inference", conf.LinearInference, "fit the linear low-dimensional inference step")
	cmd.Flags().Float64Var(&conf.Linear.VarianceThreshold, "variance-threshold", conf.Linear.VarianceThreshold, "explained variance retained by the representation PCA")
	cmd.Flags().BoolVar(&conf.Resample, "resample", conf.Resample, "bootstrap resample the dataset before fitting")
	cmd.Flags().Int64Var(&conf.Seed, "seed", conf.Seed, "random seed")

	return cmd
}

func runFit(parent context.Context, conf estimation.Config, data dataFlags, stage2Path, outputDir, sinkKind string, points int) error {
	log := internal.DefaultLogger.Named("fit")

	ds, err := ivdata.Read(data.path, data.sheet, data.columns())
	if err != nil {
		return err
	}
	log.Info("loaded %d samples from %s", ds.Len(), data.path)

	var stage2 ports.DatasetPort
	if stage2Path != "" {
		s2, err := ivdata.Read(stage2Path, data.sheet, data.columns())
		if err != nil {
			return err
		}
		stage2 = s2
		log.Info("loaded %d outcome-stage samples from %s", s2.Len(), stage2Path)
	}

	var sink ports.RunSinkPort
	switch sinkKind {
	case "log":
		sink = telemetry.NewLogSink(internal.DefaultLogger.Named("telemetry"))
	case "file":
		fs, err := telemetry.NewFileSink(outputDir)
		if err != nil {
			return err
		}
		sink = fs
	case "none":
		sink = telemetry.NoopSink{}
	default:
		return errors.ConfigInvalid("telemetry must be log, file or none")
	}

	orch, err := estimation.NewOrchestrator(conf, internal.DefaultLogger.Named("estimation"), sink)
	if err != nil {
		return err
	}

	// SIGINT stops training gracefully and keeps the best checkpoint.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.Fit(ctx, ds, stage2)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", outputDir)
	}
	if err := result.Save(outputDir); err != nil {
		return err
	}
	log.Info("run %s saved to %s", result.RunID, outputDir)

	curvePath := filepath.Join(outputDir, "causal_estimates.csv")
	f, err := os.Create(curvePath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", curvePath)
	}
	defer f.Close()
	stats := result.Meta.Stats
	if err := estimation.ExportEstimates(f, result.Estimator(), stats.DomainLower, stats.DomainUpper, points, conf.Conformal.Alpha); err != nil {
		return err
	}
	log.Info("dose-response curve written to %s", curvePath)
	return nil
}
