// Package cmd defines the headline-tracker command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/app"
	"github.com/JakeFAU/headline-tracker/internal/config"
	"github.com/JakeFAU/headline-tracker/internal/logging"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use. Tests inject their own.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Store() tracker.Store
	Runner() *tracker.Runner
	StoreLocation() string
	BlobStore(ctx context.Context) (tracker.BlobStore, error)
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newLogger builds the process logger, swapped out in tests.
var newLogger = logging.New

type rootOptions struct {
	configPath string
	ephemeral  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "headline-tracker",
		Short: "Track title and company changes on public profile pages.",
		Long: `headline-tracker keeps a list of public profile pages, refreshes them on
demand and records every observed headline in an append-only history. Runs
are sequential and polite; profiles behind a login wall are skipped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.ephemeral {
				cfg.Storage.Driver = config.DriverMemory
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep profiles in memory only")

	cmd.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newAddFromURLCmd(),
		newListCmd(),
		newSetFirmCmd(),
		newRunCmd(),
		newExportCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
