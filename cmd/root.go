package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/atparisi/revq/internal/output"
	"github.com/atparisi/revq/internal/pipeline"
	"github.com/atparisi/revq/internal/queue"
	"github.com/atparisi/revq/internal/regression"
	"github.com/atparisi/revq/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "revq",
	Short: "Review queue - validation consensus, escalation, and human review",
	Long: `revq manages the human review loop for automated validation runs.
It computes judge consensus, applies escalation policies, maintains a
priority queue of results needing review, and tracks regressions across
validation runs.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/revq/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "revq")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVQ")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "revq")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "revq.db"))
	viper.SetDefault("validator_id", os.Getenv("USER"))
	viper.SetDefault("queue.claim_timeout", queue.DefaultClaimTimeout.String())
	viper.SetDefault("queue.default_priority", 5)
	viper.SetDefault("queue.review_band_low", queue.DefaultBand.Low)
	viper.SetDefault("queue.review_band_high", queue.DefaultBand.High)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getQueue returns a queue service backed by the shared store.
func getQueue() (*queue.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return queue.NewService(s, nil), nil
}

// getTracker returns a regression tracker backed by the shared store.
func getTracker() (*regression.Tracker, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return regression.NewTracker(s, logger), nil
}

// getPipeline wires the full processing pipeline.
func getPipeline() (*pipeline.Pipeline, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return pipeline.New(s, queue.NewService(s, nil), regression.NewTracker(s, logger), logger), nil
}

// validatorID resolves the acting validator from flag value or config.
func validatorID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString("validator_id")
}

// claimTimeout parses the configured claim timeout, falling back to the default.
func claimTimeout() time.Duration {
	d, err := time.ParseDuration(viper.GetString("queue.claim_timeout"))
	if err != nil || d <= 0 {
		return queue.DefaultClaimTimeout
	}
	return d
}
