package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/jointscope/internal/config"
	"github.com/andresmejia3/jointscope/internal/logger"
	"github.com/andresmejia3/jointscope/internal/store"
	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// annotationDB marks commands that cannot run without a database connection.
const annotationDB = "jointscope/db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the environment configuration with flag overrides applied
	Cfg *config.Config
	// Log is the process-wide structured logger
	Log *zap.Logger

	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "jointscope",
	Short:   "Joint angle tracking for exercise videos",
	Version: Version, // This enables the --version flag
	// execute prints errors once, after commands had a chance to show them in a box.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dbURL != "" {
			cfg.DatabaseURL = dbURL
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Cfg = cfg

		Log, err = logger.New(cfg.LogLevel)
		if err != nil {
			return err
		}

		if _, ok := cmd.Annotations[annotationDB]; ok {
			return connectDB(cmd.Context())
		}
		return nil
	},
}

// connectDB opens the shared store once.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, Cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// shownError is an error that has already been printed in an error box.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// showError prints the error box and marks err as reported.
func showError(msg string, err error, s *utils.SafeCommand) error {
	utils.ShowError(msg, err, s)
	return &shownError{err: err}
}

// closeResources releases the shared database connection and flushes the logger.
func closeResources() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	if Log != nil {
		_ = Log.Sync()
		Log = nil
	}
}

// execute runs the command line and releases shared resources whether or not the
// command failed. Errors already shown in a box are not printed again.
func execute(ctx context.Context, args []string) error {
	defer closeResources()

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	var shown *shownError
	if err != nil && !errors.As(err, &shown) {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL, POSTGRES_* or "+config.DefaultDatabaseURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
}
