package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeafMist/news-radar/internal/aggregation"
	"github.com/DeafMist/news-radar/internal/config"
	"github.com/DeafMist/news-radar/internal/dedupe"
	"github.com/DeafMist/news-radar/internal/elasticsearch"
	"github.com/DeafMist/news-radar/internal/logger"
	"github.com/DeafMist/news-radar/internal/processing"
	"github.com/DeafMist/news-radar/internal/publish"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "aggregator",
		Short:        "Group recent news articles by TF-IDF similarity",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(runCmd(), scheduleCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one grouping pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), dryRun, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RunTimeout)
			defer cancel()
			return a.runOnce(ctx)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print groupings to stdout instead of writing them")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run grouping passes on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), false, nil)
			if err != nil {
				return err
			}
			defer a.close()

			a.log.Info("aggregator scheduled",
				slog.Duration("interval", a.cfg.Interval),
				slog.Duration("timeout", a.cfg.RunTimeout),
			)
			schedule(cmd.Context(), a.log, a.cfg.Interval, a.cfg.RunTimeout, a.runOnce)
			a.log.Info("shutdown signal received")
			return nil
		},
	}
}

type app struct {
	cfg     *config.Aggregator
	log     *slog.Logger
	svc     *aggregation.Service
	closers []io.Closer
}

func setup(ctx context.Context, dryRun bool, stdout io.Writer) (*app, error) {
	log := logger.New("aggregator")
	cfg, err := config.LoadAggregator()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		return nil, err
	}

	esClient, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, elasticsearch.Indices{
		Raw:   cfg.RawIndex,
		Aggr:  cfg.AggrIndex,
		Group: cfg.GroupIndex,
	}, log, elasticsearch.DefaultBackoff)
	if err != nil {
		log.Error("connect elasticsearch", slog.Any("err", err))
		return nil, err
	}
	if err := esClient.EnsureIndices(ctx); err != nil {
		log.Error("ensure indices", slog.Any("err", err))
		return nil, err
	}

	engine, err := aggregation.NewEngine(aggregation.Options{
		DocSimilarityFloor:  cfg.DocSimilarityFloor,
		GroupMergeThreshold: cfg.GroupMergeThreshold,
		NGramMin:            cfg.NGramMin,
		NGramMax:            cfg.NGramMax,
		TagsToMerge:         cfg.TagsToMerge,
	}, processing.NewTokenizer(cfg.TokenMinLength), log)
	if err != nil {
		log.Error("init engine", slog.Any("err", err))
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	var sinks []aggregation.Sink
	switch {
	case dryRun:
		sinks = append(sinks, &jsonSink{w: stdout})
	default:
		sinks = append(sinks, esClient)
		if len(cfg.KafkaBrokers) > 0 {
			k := publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaGroupsTopic, log)
			sinks = append(sinks, k)
			a.closers = append(a.closers, k)
		}
	}

	tracker := dedupe.NewTracker(cfg.DedupeCapacity, cfg.DedupeTTL)
	a.svc = aggregation.NewService(esClient, engine, tracker, aggregation.ServiceConfig{
		Lookback:  cfg.Lookback,
		FetchSize: cfg.FetchSize,
		PageSize:  cfg.PageSize,
	}, log, sinks...)

	return a, nil
}

func (a *app) runOnce(ctx context.Context) error {
	start := time.Now()
	report, err := a.svc.RunOnce(ctx)
	if err != nil {
		a.log.Error("aggregation run failed",
			slog.Bool("upstream_unavailable", errors.Is(err, aggregation.ErrUpstreamUnavailable)),
			slog.Any("err", err),
		)
		return err
	}

	a.log.Info("aggregation run finished",
		slog.String("run_id", report.RunID),
		slog.String("status", report.Status),
		slog.Int("fresh", report.Fresh),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close sink", slog.Any("err", err))
		}
	}
}

// schedule calls run immediately and then on every tick until ctx is done.
// Runs never overlap; ticks missed by a slow run are dropped.
func schedule(ctx context.Context, log *slog.Logger, interval, timeout time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := run(runCtx); err != nil && errors.Is(err, context.DeadlineExceeded) {
			log.Warn("aggregation run timed out", slog.Duration("timeout", timeout))
		}
		cancel()
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// jsonSink prints the groupings of a run, one JSON document per line.
type jsonSink struct {
	w io.Writer
}

func (s *jsonSink) Write(_ context.Context, out *aggregation.Output) error {
	enc := json.NewEncoder(s.w)
	for _, g := range out.Groupings {
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("encode grouping %s: %w", g.Tag, err)
		}
	}
	return nil
}
