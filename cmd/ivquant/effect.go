package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ivquant/internal/errors"
	"ivquant/internal/estimation"
	"ivquant/ports"
)

func newEffectCmd() *cobra.Command {
	var (
		resultsDir string
		x          float64
		covars     []float64
		alpha      float64
		curve      string
		points     int
	)

	cmd := &cobra.Command{
		Use:   "effect",
		Short: "Evaluate a fitted model at an exposure value or export the full curve",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := estimation.FromResults(resultsDir)
			if err != nil {
				return err
			}
			est := result.Estimator()

			if curve != "" {
				f, err := os.Create(curve)
				if err != nil {
					return errors.Wrapf(err, "creating %s", curve)
				}
				defer f.Close()
				stats := result.Meta.Stats
				return estimation.ExportEstimates(f, est, stats.DomainLower, stats.DomainUpper, points, alpha)
			}

			if !cmd.Flags().Changed("x") {
				return errors.InvalidInput("either --x or --curve is required")
			}
			if unc, ok := est.(ports.UncertaintyEstimatorPort); ok && cmd.Flags().Changed("alpha") {
				iv, err := unc.EffectWithInterval(x, covars, alpha)
				if err != nil {
					return err
				}
				fmt.Printf("E[Y | do(X=%g)] = %g  [%g, %g] at alpha=%g\n", x, iv.Point, iv.Lower, iv.Upper, alpha)
				return nil
			}
			var point float64
			if len(covars) > 0 {
				point, err = est.Effect(x, covars)
			} else {
				point, err = est.AvgEffect(x)
			}
			if err != nil {
				return err
			}
			fmt.Printf("E[Y | do(X=%g)] = %g\n", x, point)
			return nil
		},
	}

	cmd.Flags().StringVarP(&resultsDir, "results", "r", "ivquant_results", "directory with run artifacts")
	cmd.Flags().Float64Var(&x, "x", 0, "exposure value to evaluate")
	cmd.Flags().Float64SliceVar(&covars, "covars", nil, "covariate values, in training column order")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.1, "interval miscoverage level")
	cmd.Flags().StringVar(&curve, "curve", "", "write the full dose-response curve to this csv file instead")
	cmd.Flags().IntVar(&points, "curve-points", 200, "points on the exported curve")

	return cmd
}
