package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/news-radar/internal/config"
	"github.com/DeafMist/news-radar/internal/elasticsearch"
	"github.com/DeafMist/news-radar/internal/logger"
)

type deleter interface {
	DeleteOlderThan(ctx context.Context, index, field string, maxAge time.Duration, batchSize int) (int64, error)
}

// target is an index swept by the retention job and the date field it ages on.
type target struct {
	index string
	field string
}

func targets(cfg *config.Retention) []target {
	return []target{
		{index: cfg.RawIndex, field: "timestamp"},
		{index: cfg.AggrIndex, field: "timestamp"},
		{index: cfg.GroupIndex, field: "created_at"},
	}
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, elasticsearch.Indices{
		Raw:   cfg.RawIndex,
		Aggr:  cfg.AggrIndex,
		Group: cfg.GroupIndex,
	}, log, elasticsearch.DefaultBackoff)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
	)

	// A failing sweep is retried on the next tick.
	runOnce(ctx, log, esClient, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, esClient, cfg)
		}
	}
}

// runOnce sweeps every index and returns the total number of deleted documents.
func runOnce(ctx context.Context, log *slog.Logger, es deleter, cfg *config.Retention) int64 {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var total int64
	for _, t := range targets(cfg) {
		deleted, err := es.DeleteOlderThan(subCtx, t.index, t.field, cfg.MaxAge, cfg.BatchSize)
		if err != nil {
			log.Warn("retention run failed (will retry on next interval)",
				slog.String("index", t.index),
				slog.Any("err", err),
			)
			continue
		}
		total += deleted
		if deleted > 0 {
			log.Info("retention run completed", slog.String("index", t.index), slog.Int64("deleted", deleted))
		} else {
			log.Debug("retention run completed, no old documents found", slog.String("index", t.index))
		}
	}
	return total
}
