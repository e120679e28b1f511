package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs the configured crawl
// once. Pending targets of earlier runs are replayed first when crawl.resume
// is set.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run the configured crawl",
		RunE:  runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	summary, run, err := appInstance.Crawl(cmd.Context())
	fields := []zap.Field{
		zap.Int("requests", summary.Requests),
		zap.Int("responses", summary.Responses),
		zap.Int("errors", summary.Errors),
		zap.Int("emitted", summary.Emitted),
		zap.Int("replayed", summary.Resume.Replayed),
		zap.Int("resume_skipped", len(summary.Resume.Skipped)),
	}
	if run != nil {
		fields = append(fields,
			zap.String("run_id", run.ID),
			zap.Int("persisted", run.Stats.Persisted),
			zap.Int("deferred", run.Stats.Deferred),
			zap.Int("dropped", run.Stats.Dropped),
			zap.Int("failed", run.Stats.Failed),
		)
	}
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("crawl interrupted; pending targets are kept for the next run", fields...)
		return nil
	case err != nil:
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl command finished", fields...)
	return nil
}
