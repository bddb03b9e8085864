package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", NodeID(ctx))

	ctx = WithNodeID(WithRunID(ctx, "run-1"), "s1")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "s1", NodeID(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithNodeID(WithRunID(context.Background(), "run-7"), "t1")
	logger.InfoContext(ctx, "executing node")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-7"`)
	assert.Contains(t, out, `"node_id":"t1"`)
	assert.Contains(t, out, "executing node")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "bare")

	out := buf.String()
	assert.NotContains(t, out, "run_id")
	assert.NotContains(t, out, "node_id")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "runner")}))

	logger.InfoContext(WithRunID(context.Background(), "r"), "attrs")
	out := buf.String()
	assert.Contains(t, out, `"component":"runner"`)
	assert.Contains(t, out, `"run_id":"r"`)

	buf.Reset()
	slog.New(h.WithGroup("pipeline")).InfoContext(context.Background(), "grouped", "nodes", 3)
	assert.Contains(t, buf.String(), `"pipeline":{"nodes":3}`)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, slog.LevelWarn, "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = New(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}
