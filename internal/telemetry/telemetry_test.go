package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/transfer"
)

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "transferkit-test"})
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		_ = tel.Shutdown(context.Background())
	})

	return tel
}

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	return rec.Body.String()
}

func TestDisabledTelemetry_IsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.Enabled())

	called := false
	err = tel.InstrumentTransfer(context.Background(), http.MethodGet, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	tel.RecordTransferBytes("download", 10)
	tel.RecordMultiState(1, 2)
	tel.RecordSocket(true)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNilTelemetry_IsNoop(t *testing.T) {
	var tel *Telemetry

	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.InstrumentDBOperation(context.Background(), "get", func(context.Context) error { return nil }))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestInstrumentTransfer_RecordsCode(t *testing.T) {
	tel := newEnabled(t)

	failure := transfer.NewError("perform", transfer.CodeCouldntConnect, "", nil)
	err := tel.InstrumentTransfer(context.Background(), http.MethodGet, func(context.Context) error {
		return failure
	})
	require.ErrorIs(t, err, transfer.CodeCouldntConnect)

	tel.RecordTransferBytes("download", 1024)

	body := scrape(t, tel)
	assert.Contains(t, body, "transfers_total")
	assert.Contains(t, body, `code="7"`)
	assert.Contains(t, body, "transfer_bytes_total")
}

func TestInstrumentOperation_PassesSpanContext(t *testing.T) {
	tel := newEnabled(t)

	var buf bytes.Buffer
	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	err := tel.InstrumentOperation(context.Background(), "op", "test", func(ctx context.Context) error {
		logger.InfoContext(ctx, "inside")
		return errors.New("boom")
	})
	require.Error(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotEmpty(t, entry["trace_id"])
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	tel := newEnabled(t)

	h := RequestID(HTTPLogging(NewHTTPMiddleware(tel).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))))

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	body := scrape(t, tel)
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `status="4xx"`)
}

func TestRequestID_ReusesUpstream(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestGetStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", getStatusClass(204))
	assert.Equal(t, "3xx", getStatusClass(302))
	assert.Equal(t, "4xx", getStatusClass(404))
	assert.Equal(t, "5xx", getStatusClass(502))
	assert.Equal(t, "unknown", getStatusClass(99))
}
