package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-radar/internal/aggregation"
	"github.com/DeafMist/news-radar/internal/models"
)

type stubWriter struct {
	msgs []kafka.Message
	err  error
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error { return nil }

func TestWritePublishesOneMessagePerGrouping(t *testing.T) {
	w := &stubWriter{}
	k := newKafka(w, nil)

	out := &aggregation.Output{
		RunID: "run-1",
		Groupings: []models.GroupingResult{
			{RunID: "run-1", Tag: models.TagBreaking, FinalGroups: [][]string{{"a", "b"}}},
			{RunID: "run-1", Tag: models.TagNormal, FinalGroups: [][]string{{"c"}}},
		},
	}
	require.NoError(t, k.Write(context.Background(), out))
	require.Len(t, w.msgs, 2)

	require.Equal(t, "breaking", string(w.msgs[0].Key))
	require.Equal(t, "run_id", w.msgs[0].Headers[0].Key)
	require.Equal(t, "run-1", string(w.msgs[0].Headers[0].Value))

	var got models.GroupingResult
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &got))
	require.Equal(t, [][]string{{"c"}}, got.FinalGroups)
}

func TestWriteSkipsEmptyOutput(t *testing.T) {
	w := &stubWriter{err: errors.New("should not be called")}
	require.NoError(t, newKafka(w, nil).Write(context.Background(), &aggregation.Output{RunID: "x"}))
}

func TestWriteWrapsWriterError(t *testing.T) {
	down := errors.New("broker down")
	w := &stubWriter{err: down}
	out := &aggregation.Output{Groupings: []models.GroupingResult{{Tag: models.TagBreaking}}}
	require.ErrorIs(t, newKafka(w, nil).Write(context.Background(), out), down)
}
