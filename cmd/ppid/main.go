package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ppi-control/internal/infra/config"
	"ppi-control/internal/infra/logger"
	"ppi-control/internal/infra/tracer"
)

// configEnv names the config file when --config is not given.
const configEnv = "PPI_CONFIG"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ppid",
	Short: "Project control daemon",
	Long: `ppid coordinates the project agents: tasks and deadlines, payments and
glosa risks, document compliance, purchases and quotations, summaries and the
daily feed. Every mutation lands in the audit feed.

Configuration is read from --config (default ./ppid.yaml or $PPI_CONFIG).
PPI_* environment variables override file values; enc: secrets are decrypted
with $PPI_CONFIG_KEY.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	def := os.Getenv(configEnv)
	if def == "" {
		def = "ppid.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", def, "config file path")
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(encryptCmd())
	rootCmd.AddCommand(checkCmd())
}

// env is the process-level setup shared by every command that touches state.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	shutdown func()
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	return &env{
		cfg: cfg,
		log: log,
		shutdown: func() {
			if err := tracerShutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown", "error", err)
			}
			logCloser()
		},
	}, nil
}
