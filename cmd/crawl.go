package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/crawler"
	"github.com/JakeFAU/harmony-crawler/internal/interrupt"
	"github.com/JakeFAU/harmony-crawler/internal/metrics"
	"github.com/JakeFAU/harmony-crawler/internal/progress"
	"github.com/JakeFAU/harmony-crawler/internal/progress/sinks"
)

const hubCloseTimeout = 5 * time.Second

// registerer receives the crawl progress collectors and gatherer serves them
// on crawler.metrics_addr. Tests swap both for a private registry.
var (
	registerer prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the composer index and store new composers and compositions",
		Long: `Checks the site's robots policy, walks the composer index in order and
saves every composer and composition not already in the store. Ctrl-C asks
for confirmation before stopping; the next run resumes where this one left off.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if addr := a.Config().Crawler.MetricsAddr; addr != "" {
		ms, err := metrics.Listen(addr, gatherer, logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			closeCtx, done := context.WithTimeout(context.Background(), hubCloseTimeout)
			defer done()
			if cerr := ms.Close(closeCtx); cerr != nil {
				logger.Warn("metrics server close failed", zap.Error(cerr))
			}
		}()
	}

	promSink, err := sinks.NewPrometheusSink(registerer)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), hubCloseTimeout)
		defer done()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	guard := interrupt.New(interrupt.Config{
		Confirm: a.Config().Interrupt.Confirm,
		OnExit:  cancel,
	}, logger)
	guard.Start()
	defer guard.Stop()

	engine, err := a.NewEngine(hub, guard)
	if err != nil {
		return err
	}
	summary, err := engine.Run(ctx)
	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, crawler.ErrPermissionDenied):
		color.New(color.FgRed, color.Bold).Fprintln(cmd.ErrOrStderr(), "Crawling is not permitted by the site's robots policy:", err)
		return err
	case errors.Is(err, context.Canceled):
		color.New(color.FgYellow).Fprintln(out, "Crawl stopped; run again to resume.")
	case err != nil:
		return fmt.Errorf("run crawler: %w", err)
	}
	printSummary(out, summary)
	return nil
}

func printSummary(w io.Writer, s crawler.RunSummary) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  composers:    %s\n", formatTally(s.Composers))
	fmt.Fprintf(w, "  compositions: %s\n", formatTally(s.Compositions))
}

func formatTally(t crawler.Tally) string {
	if t.Total() == 0 {
		return "none"
	}
	var parts []string
	for _, o := range []progress.Outcome{
		progress.OutcomeSaved, progress.OutcomeSkipped, progress.OutcomeExcluded,
		progress.OutcomeDropped, progress.OutcomeFailed,
	} {
		if n := t[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	return strings.Join(parts, ", ")
}
