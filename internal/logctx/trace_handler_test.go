package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON log output")

	return entry
}

// TestTraceHandler_NoSpanContext verifies that logs without span context
// do NOT include trace_id or span_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(&buf, slog.LevelInfo).InfoContext(context.Background(), "test message", "key", "value")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "transfer_id")
	assert.Equal(t, "value", entry["key"])
}

// TestTraceHandler_WithValidSpan verifies trace_id and span_id match the active span.
func TestTraceHandler_WithValidSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	newJSONLogger(&buf, slog.LevelInfo).InfoContext(ctx, "test message")

	entry := decode(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_TransferID(t *testing.T) {
	ctx := WithTransferID(context.Background(), "5f1c7a4e")

	var buf bytes.Buffer
	newJSONLogger(&buf, slog.LevelInfo).InfoContext(ctx, "perform finished")

	entry := decode(t, &buf)
	assert.Equal(t, "5f1c7a4e", entry["transfer_id"])
	assert.Equal(t, "5f1c7a4e", TransferIDFromContext(ctx))
	assert.Empty(t, TransferIDFromContext(context.Background()))
}

// TestTraceHandler_Enabled verifies level filtering is delegated to the inner handler.
func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

// TestTraceHandler_WithAttrsAndGroup verifies derived handlers keep injecting fields.
func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo).With("component", "multi")

	ctx := WithTransferID(context.Background(), "abc")
	logger.InfoContext(ctx, "added")

	entry := decode(t, &buf)
	assert.Equal(t, "multi", entry["component"])
	assert.Equal(t, "abc", entry["transfer_id"])

	buf.Reset()
	newJSONLogger(&buf, slog.LevelInfo).WithGroup("req").InfoContext(context.Background(), "grouped", "id", 1)

	entry = decode(t, &buf)
	group, ok := entry["req"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 1, group["id"], 0)
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, LoggerFromContext(WithLogger(context.Background(), l)))
}
