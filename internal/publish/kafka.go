// Package publish forwards grouping results to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/news-radar/internal/aggregation"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per grouping result, keyed by tag so that
// results of one tag stay ordered within a partition.
type Kafka struct {
	w   messageWriter
	log *slog.Logger
}

// NewKafka creates a publisher writing to topic.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafka(w, logger)
}

func newKafka(w messageWriter, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Kafka{w: w, log: logger}
}

// Write publishes the groupings of out. Term scores are not published.
func (k *Kafka) Write(ctx context.Context, out *aggregation.Output) error {
	if len(out.Groupings) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(out.Groupings))
	for _, g := range out.Groupings {
		payload, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("marshal grouping %s: %w", g.Tag, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(g.Tag),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(out.RunID)},
			},
		})
	}

	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish groupings: %w", err)
	}
	k.log.Info("groupings published", slog.String("run_id", out.RunID), slog.Int("messages", len(msgs)))
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
