package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/news-radar/internal/config"
	"github.com/DeafMist/news-radar/internal/dedupe"
	"github.com/DeafMist/news-radar/internal/elasticsearch"
	"github.com/DeafMist/news-radar/internal/logger"
	"github.com/DeafMist/news-radar/internal/models"
	"github.com/DeafMist/news-radar/internal/processing"
)

// crawledArticle is the payload the crawler publishes per article.
type crawledArticle struct {
	NewsID    string `json:"news_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Tag       string `json:"tag"`
	Timestamp string `json:"timestamp"`
}

type rawIndexer interface {
	IndexRaw(ctx context.Context, article models.RawArticle) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

const dlqAttempts = 5

var errInvalidArticle = errors.New("invalid article")

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, elasticsearch.Indices{
		Raw:   cfg.RawIndex,
		Aggr:  cfg.AggrIndex,
		Group: cfg.GroupIndex,
	}, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	tracker := dedupe.NewTracker(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = esClient.EnsureIndices(ensureCtx)
	cancel()
	if err != nil {
		log.Error("ensure indices", slog.Any("err", err))
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := &kafka.Writer{
		Addr:        kafka.TCP(cfg.KafkaBrokers...),
		Topic:       dlqTopic,
		MaxAttempts: 3,
	}
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, tracker, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			sent, dlqErr := sendToDLQ(ctx, log, dlqWriter, msg, err, time.Second)
			if errors.Is(dlqErr, context.Canceled) {
				log.Info("context canceled during DLQ retry")
				return
			}
			// An uncommitted message is redelivered after restart.
			if !sent {
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage validates one crawled article and stores it in the raw
// index. Articles already indexed within the tracker TTL are dropped.
func processMessage(ctx context.Context, log *slog.Logger, idx rawIndexer, tracker *dedupe.Tracker, msg kafka.Message) error {
	var payload crawledArticle
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	article, err := toRawArticle(payload, time.Now)
	if err != nil {
		return err
	}

	if tracker.Seen(article.NewsID) {
		log.Debug("duplicate article", slog.String("news_id", article.NewsID))
		return nil
	}

	if err := idx.IndexRaw(ctx, article); err != nil {
		return err
	}

	tracker.Mark(article.NewsID)
	log.Info("indexed article",
		slog.String("news_id", article.NewsID),
		slog.String("tag", string(article.Tag)),
	)
	return nil
}

func toRawArticle(p crawledArticle, now func() time.Time) (models.RawArticle, error) {
	title := strings.TrimSpace(p.Title)
	content := strings.TrimSpace(p.Content)
	if title == "" && content == "" {
		return models.RawArticle{}, fmt.Errorf("%w: empty title and content", errInvalidArticle)
	}

	tag, ok := models.ParseTag(p.Tag)
	if !ok {
		return models.RawArticle{}, fmt.Errorf("%w: unknown tag %q", errInvalidArticle, p.Tag)
	}

	ts := parseTimestamp(p.Timestamp)
	if ts.IsZero() {
		ts = now().UTC()
	}

	id := strings.TrimSpace(p.NewsID)
	if id == "" {
		id = processing.BuildDocumentID(title, content, ts)
	}

	return models.RawArticle{
		NewsID:    id,
		Title:     title,
		Content:   content,
		Tag:       tag,
		Timestamp: ts,
	}, nil
}

// sendToDLQ forwards a failed message with its error context, retrying with
// exponential backoff starting at base. It reports whether the write landed.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error, base time.Duration) (bool, error) {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range dlqAttempts {
		err := w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true, nil
		}
		if attempt == dlqAttempts-1 {
			return false, err
		}

		backoff := base << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts
		}
	}

	return time.Time{}
}
