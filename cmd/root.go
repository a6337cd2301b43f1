// Package cmd defines the harmony CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/app"
	"github.com/JakeFAU/harmony-crawler/internal/config"
	"github.com/JakeFAU/harmony-crawler/internal/crawler"
	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/progress"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the service container the commands use. Tests inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() store.Store
	NewEngine(emitter progress.Emitter, pauser crawler.Pauser) (*crawler.Engine, error)
	Close()
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd builds the command tree. release closes the App created by
// PersistentPreRunE; it must run even when a subcommand fails, which cobra's
// post-run hooks do not guarantee.
func newRootCmd() (root *cobra.Command, release func()) {
	var (
		cfgFile string
		created App
	)
	cmd := &cobra.Command{
		Use:   "harmony",
		Short: "Polite, resumable crawler for composers and their compositions.",
		Long: `harmony walks a music catalog's composer index, extracts composer and
composition metadata, and stores it in SQLite or PostgreSQL. Runs can be
interrupted and resumed; finished composers are never fetched again.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			created = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus HARMONY_* environment when empty)")

	cmd.AddCommand(newCrawlCmd(), newServeCmd(), newStatsCmd())
	return cmd, func() {
		if created != nil {
			created.Close()
			created = nil
		}
	}
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root, release := newRootCmd()
	err := root.ExecuteContext(context.Background())
	release()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harmony:", err)
		os.Exit(1)
	}
}
