package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		require.Equal(t, want, parseLevel(raw), raw)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "aggregator", "info", "json")

	log.Debug("hidden")
	log.Info("run finished", slog.String("run_id", "r1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "aggregator", rec["service"])
	require.Equal(t, "run finished", rec["msg"])
	require.Equal(t, "r1", rec["run_id"])
}

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "api", "", "").Info("ready")
	require.Contains(t, buf.String(), "service=api")
	require.Contains(t, buf.String(), "msg=ready")
}
