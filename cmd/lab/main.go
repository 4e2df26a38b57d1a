package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemlab/internal/config"
	"chemlab/internal/experiment"
	"chemlab/internal/logging"
)

var (
	// Global flags
	configPath     string
	verbose        bool
	experimentsDir string

	cfg     *config.Config
	logger  *zap.Logger
	loggers *logging.Registry
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lab",
	Short: "chemlab - guided virtual chemistry experiments",
	Long: `chemlab runs guided chemistry experiments against a step-gated simulation
core: equipment placement and reagent actions are validated against the active
step, vessel colors follow mixing rules, and a phase detector watches the
driving quantity (burette reading, reagent ratio) for endpoints.

Experiments are YAML definitions. Five are built in; more can be loaded from
a directory with --experiments.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if experimentsDir != "" {
			cfg.Experiments.Dir = experimentsDir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		// Initialize logger
		logger, err = logging.New(cfg.Logging.Options())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		loggers = logging.NewRegistry(logger, cfg.Logging.Categories)
		loggers.Get(logging.CategoryBoot).Debug("config loaded",
			zap.String("path", configPath),
			zap.String("experiments_dir", cfg.Experiments.Dir),
			zap.Strings("categories", loggers.Enabled()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if loggers != nil {
			loggers.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&experimentsDir, "experiments", "e", "", "Directory of extra experiment definitions")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(progressCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadCatalog returns the built-ins merged with the configured directory.
func loadCatalog(ctx context.Context) (*experiment.Catalog, error) {
	cat, err := experiment.NewCatalog(loggers.Get(logging.CategoryCatalog))
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in experiments: %w", err)
	}
	if cfg.Experiments.Dir == "" {
		return cat, nil
	}
	if _, err := os.Stat(cfg.Experiments.Dir); errors.Is(err, os.ErrNotExist) && experimentsDir == "" {
		// The default directory is optional; an explicit flag is not.
		return cat, nil
	}
	if _, err := cat.LoadDir(ctx, cfg.Experiments.Dir); err != nil {
		return nil, err
	}
	return cat, nil
}
