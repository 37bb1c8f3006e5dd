// Command hdvpipelined runs the HDV auction-house capture-to-persistence
// pipeline: capture, queue, price service, consumer, scheduler, and the
// health/metrics endpoints, wired from one YAML config file.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "hdvpipelined"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "HDV auction-house packet-capture pipeline",
		Version: "0.1.0",
	}
	rootCmd.PersistentFlags().String("config", "config.yaml", "path to the pipeline's YAML config file")

	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
