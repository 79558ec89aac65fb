// Package cmd implements the harvester command-line interface.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/casaops/harvester/internal/config"
	"github.com/casaops/harvester/internal/logger"
)

var (
	// cfgFile is the path of the run configuration file.
	cfgFile string

	// debug raises the log level regardless of configuration.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "harvester",
		Short: "Adaptive real-estate listing harvester",
		Long: `Harvester crawls configured real-estate sites, normalizes and
quality-scores the listings it finds, and merges them into a
deduplicated aggregate store within a fixed time budget.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment overrides are visible to viper.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./harvester.yaml or ./config/harvester.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(harvestCommand())
	rootCmd.AddCommand(planCommand())
	rootCmd.AddCommand(sitesCommand())
}

// loadRun builds the run configuration and logger shared by every
// subcommand.
func loadRun() (*config.RunConfig, logger.Interface, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.Log
	if debug {
		logCfg.Level = "debug"
		logCfg.Development = true
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}
