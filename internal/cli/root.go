package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/observability/metrics"
)

var (
	cfgFile     string
	networkFlag string
	logLevel    string
	logFormat   string
	metricsFile string

	logger = slog.Default()
)

// Execute runs the CLI
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env feeds both the flag defaults and the project config
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	settings := config.LoadSettings()

	rootCmd := &cobra.Command{
		Use:   "verideploy",
		Short: "Deploy a smart contract and verify its source",
		Long: `verideploy deploys one compiled contract to a configured EVM network,
prints the deployed address and submits the source for verification on
Etherscan-compatible explorers and Sourcify.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
			slog.SetDefault(logger)
			metrics.Init(metricsFile != "")
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: verideploy.toml or deploy.toml)")
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "", "network to use (default: $VERIDEPLOY_NETWORK or default_network)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", settings.Logging.Level, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", settings.Logging.Format, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", settings.MetricsFile, "write Prometheus metrics to this textfile on exit")

	// Add subcommands
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createDeployCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createNetworksCmd())
	rootCmd.AddCommand(createContractsCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createExplorerCmd())
	rootCmd.AddCommand(createDeploymentsCmd())

	err := rootCmd.ExecuteContext(ctx)

	// Metrics are written even when the command failed
	if writeErr := metrics.WriteTextfile(metricsFile); writeErr != nil {
		logger.Warn("failed to write metrics", slog.String("path", metricsFile), slog.String("error", writeErr.Error()))
	}
	return err
}

// newLogger builds the process logger. Logs go to stderr so stdout carries
// only command output.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadProject loads the project config, falling back to the built-in
// profiles when no config file exists. Explorer keys saved with
// 'verideploy explorer login' fill in keys the config leaves empty.
func loadProject() (*config.Project, error) {
	project, loadedFrom, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if loadedFrom != "" {
		logger.Debug("loaded project config", slog.String("path", loadedFrom))
	} else {
		logger.Debug("no project config found, using built-in networks")
	}

	applyStoredCredentials(project)
	return project, nil
}
