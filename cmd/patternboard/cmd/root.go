package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"patternboard/config"
	"patternboard/internal/logger"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "patternboard",
	Short: "Live candlestick dashboard with pattern-signal markers",
	Long: `Patternboard keeps a live candle series for one instrument, annotates it
with pattern signals from an upstream detector and pushes chart frames to
browsers over WebSocket.

Commands:
  serve    run the dashboard engine and render gateway
  feedsim  run a simulated candle/signal feed for local development

Configuration comes from environment variables, optionally overlaid by a
YAML file passed with --config.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file overlaid on env settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")
}

// setup loads configuration and initialises the process logger.
func setup(service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logger.Init(service, logger.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}
