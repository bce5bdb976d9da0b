package main

import (
	"github.com/spf13/cobra"

	"ivquant/adapters/api"
	"ivquant/internal"
	"ivquant/internal/estimation"
)

func newServeCmd() *cobra.Command {
	var (
		resultsDir string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a fitted model over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := estimation.FromResults(resultsDir)
			if err != nil {
				return err
			}
			log := internal.DefaultLogger.Named("serve")
			log.Info("serving run %s (model %s)", result.RunID, result.Meta.Model)
			srv := api.NewServer(result.Estimator(), log)
			return srv.ListenAndServe(addr)
		},
	}

	cmd.Flags().StringVarP(&resultsDir, "results", "r", "ivquant_results", "directory with run artifacts")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	return cmd
}
