package elasticsearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Backoff bounds the connection retries of Connect.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultBackoff waits 2s, 4s, ... up to 30s between ten attempts.
var DefaultBackoff = Backoff{Attempts: 10, Initial: 2 * time.Second, Max: 30 * time.Second}

// Connect creates a client and waits until the cluster answers a ping.
func Connect(ctx context.Context, addr string, idx Indices, logger *slog.Logger, b Backoff) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if b.Attempts <= 0 {
		b.Attempts = 1
	}

	client, err := New(addr, idx, logger)
	if err != nil {
		return nil, err
	}

	delay := b.Initial
	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			logger.Info("connected to elasticsearch", slog.String("addr", addr))
			return client, nil
		}
		if attempt == b.Attempts {
			break
		}

		logger.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", b.Attempts),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}

	return nil, fmt.Errorf("connect to elasticsearch after %d attempts: %w", b.Attempts, lastErr)
}
