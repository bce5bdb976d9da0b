package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ivquant/internal"
)

func main() {
	// Optional .env for LOG_LEVEL and friends. Missing files are fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "ivquant",
		Short:         "Quantile-based two-stage instrumental variable estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFitCmd(), newEffectCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		internal.DefaultLogger.Error("%v", err)
		os.Exit(1)
	}
}
