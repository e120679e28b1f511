// Package cmd defines and implements the CLI commands for the ledger executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/app"
	"github.com/JakeFAU/scrape-ledger/internal/config"
	"github.com/JakeFAU/scrape-ledger/internal/crawl"
	"github.com/JakeFAU/scrape-ledger/internal/logging"
	"github.com/JakeFAU/scrape-ledger/internal/pipeline"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests inject a
// fake through newApp.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Migrate(ctx context.Context) error
	Crawl(ctx context.Context) (crawl.Summary, *pipeline.RunContext, error)
	Pending(ctx context.Context, crawlName string, limit int) ([]store.FrontierEntry, error)
	Handler() http.Handler
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
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

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Crawl sites into a relational ledger.",
		Long: `ledger runs named crawls, persists the extracted records idempotently
and keeps a frontier of pending targets so an interrupted crawl resumes where
it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
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

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); LEDGER_* env vars override it")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
