package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/opsdesk/internal/blob"
	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/metrics"
	"github.com/joescharf/opsdesk/internal/output"
	"github.com/joescharf/opsdesk/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	collector *metrics.Metrics

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "Operations desk - delayed task triage and folder review",
	Long: `opsdesk helps an operations team work two queues.

The delay classifier loads a tracking sheet, flags steps that exceed their
task threshold and ranks them by priority. The folder distributor splits
work items across reviewers and records their accept/reject decisions.`,
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
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/opsdesk/config.yaml)")
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "opsdesk"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OPSDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	_ = viper.ReadInConfig()
}

// setDefaults registers every config default. Tests call it after viper.Reset.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "opsdesk.db"))
	viper.SetDefault("blob_dir", filepath.Join(dir, "folders"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("store.retry_attempts", store.DefaultRetryAttempts)
	viper.SetDefault("store.retry_delay", store.DefaultRetryDelay)
	viper.SetDefault("delay.thresholds", []delay.TaskThreshold{})
	viper.SetDefault("delay.session_idle", delay.DefaultSessionIdle)
	viper.SetDefault("distribute.skip_assigned", false)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store opens lazily so config and version run without a database.
}

// getMetrics returns the process-wide collectors.
func getMetrics() *metrics.Metrics {
	if collector == nil {
		collector = metrics.New()
	}
	return collector
}

// getStore returns the shared document store, opening it on first call.
// Every call goes through the retrying wrapper.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = withRetry(s)
	ui.VerboseLog("Using document store %s", dbPath)
	return dataStore, nil
}

func withRetry(s store.Store) store.Store {
	r := store.NewRetrying(s, viper.GetInt("store.retry_attempts"), viper.GetDuration("store.retry_delay"))
	m := getMetrics()
	r.OnRetry = func(op string, attempt int, err error) {
		m.RecordRetry(op, attempt, err)
		ui.VerboseLog("Retrying %s (attempt %d): %v", op, attempt, err)
	}
	return r
}

// getDistributor returns a distributor over the shared store with its
// header rows in place. Under --dry-run the header rows are not written.
func getDistributor(ctx context.Context) (*distribute.Distributor, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	d := distribute.New(s)
	if dryRun {
		return d, nil
	}
	if err := d.EnsureSheets(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// getBlobs returns the folder store rooted at blob_dir.
func getBlobs() *blob.FSStore {
	return blob.NewFSStore(viper.GetString("blob_dir"))
}

// baseThresholdOverrides reads delay.thresholds, a list of {task, hours}.
// A list rather than a map keeps task names case-sensitive.
func baseThresholdOverrides() []delay.TaskThreshold {
	var overrides []delay.TaskThreshold
	if err := viper.UnmarshalKey("delay.thresholds", &overrides); err != nil {
		ui.Warning("Ignoring delay.thresholds: %v", err)
		return nil
	}
	return overrides
}

// baseThresholds returns the built-in thresholds with config overrides
// applied. Non-positive hours are reported and skipped.
func baseThresholds() *delay.Thresholds {
	t := delay.DefaultThresholds()

	overrides := baseThresholdOverrides()
	if len(overrides) == 0 {
		return t
	}
	changes := make(map[string]float64, len(overrides))
	for _, o := range overrides {
		changes[o.Task] = o.Hours
	}
	applied := t.Update(changes)
	if len(applied) < len(changes) {
		ui.Warning("Ignored %d invalid threshold override(s)", len(changes)-len(applied))
	}
	ui.VerboseLog("Applied %d threshold override(s) from config", len(applied))
	return t
}
