package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dashloom-cli/internal/apperr"
	cfgpkg "github.com/KaramelBytes/dashloom-cli/internal/config"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/utils"
)

var (
	cfgFile   string
	debug     bool
	verbosity int
	quiet     bool
	dbPath    string
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg    *cfgpkg.Global
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "dashloom",
	Short: "Dashloom CLI: turn tabular samples into versioned dashboard specs",
	Long: `Dashloom profiles a bounded sample of a dataset, classifies every column into a
semantic role, synthesizes a validated dashboard spec and keeps an append-only
version history that can be edited with JSON patches.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		if code := apperr.CodeOf(err); code != apperr.Internal {
			fmt.Fprintln(os.Stderr, "  code:", code)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is ~/.dashloom/config.yaml)")
	f.BoolVar(&debug, "debug", false, "enable debug logging")
	f.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	f.BoolVarP(&quiet, "quiet", "q", false, "suppress logs")
	f.StringVar(&dbPath, "db", "", "dashboard database path (overrides config)")
	f.IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	f.IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	f.IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	f.IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		cfg, cfgErr = nil, err
		return
	}
	cfg, cfgErr = c, nil

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if f.Changed("db") && dbPath != "" {
		cfg.DBPath = dbPath
	}
}

// requireConfig returns the loaded configuration or the load error.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		if cfgErr != nil {
			return nil, fmt.Errorf("load config: %w", cfgErr)
		}
		loadConfig()
		if cfgErr != nil {
			return nil, fmt.Errorf("load config: %w", cfgErr)
		}
	}
	return cfg, nil
}

// logLevel resolves the log level from flags, falling back to log_level.
func logLevel() slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case quiet || verbosity > 0:
		return logging.LevelFromVerbosity(verbosity, quiet)
	case cfg != nil && cfg.LogLevel != "":
		return logging.LevelFromString(cfg.LogLevel)
	default:
		return logging.LevelFromVerbosity(0, false)
	}
}

// newLogger builds the CLI text logger.
func newLogger(w io.Writer) *slog.Logger {
	return logging.NewLogger(w, logLevel())
}

func writeJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// commandContext returns the command's context, or Background when run
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
