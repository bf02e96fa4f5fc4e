package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/internal/aggregation"
	"github.com/DeafMist/news-radar/internal/models"
)

func TestScheduleRunsImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		schedule(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond, 5*time.Millisecond,
			func(ctx context.Context) error {
				if runs.Add(1) == 3 {
					cancel()
				}
				return errors.New("upstream unavailable")
			})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule did not stop after cancel")
	}
	require.Equal(t, int32(3), runs.Load())
}

func TestScheduleAppliesRunTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deadline time.Time
	schedule(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour, 20*time.Millisecond,
		func(runCtx context.Context) error {
			deadline, _ = runCtx.Deadline()
			<-runCtx.Done()
			cancel()
			return runCtx.Err()
		})
	require.False(t, deadline.IsZero())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	out := &aggregation.Output{
		RunID: "r1",
		Groupings: []models.GroupingResult{
			{RunID: "r1", Tag: models.TagBreaking, FinalGroups: [][]string{{"a", "b"}}},
			{RunID: "r1", Tag: models.TagNormal, FinalGroups: [][]string{{"c"}}},
		},
	}
	require.NoError(t, (&jsonSink{w: &buf}).Write(context.Background(), out))

	dec := json.NewDecoder(&buf)
	var tags []models.Tag
	for dec.More() {
		var g models.GroupingResult
		require.NoError(t, dec.Decode(&g))
		tags = append(tags, g.Tag)
	}
	require.Equal(t, []models.Tag{models.TagBreaking, models.TagNormal}, tags)
}
