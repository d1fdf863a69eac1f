package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/transferkit/internal/downloader"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/transfer"
)

// mockRepository implements storage.TransferReadRepository for testing.
type mockRepository struct {
	records  []storage.TransferRecord
	err      error
	byStatus storage.Status
}

func (m *mockRepository) GetTransfers(_ context.Context) ([]storage.TransferRecord, error) {
	return m.records, m.err
}

func (m *mockRepository) GetTransfer(_ context.Context, id string) (storage.TransferRecord, error) {
	if m.err != nil {
		return storage.TransferRecord{}, m.err
	}

	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}

	return storage.TransferRecord{}, storage.ErrNotFound
}

func (m *mockRepository) GetTransfersByStatus(_ context.Context, status storage.Status) ([]storage.TransferRecord, error) {
	m.byStatus = status

	var out []storage.TransferRecord

	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}

	return out, m.err
}

// mockFetcher implements Fetcher for testing.
type mockFetcher struct {
	got     []downloader.Request
	results []downloader.Result
	err     error
}

func (m *mockFetcher) Fetch(_ context.Context, reqs []downloader.Request) ([]downloader.Result, error) {
	m.got = reqs

	return m.results, m.err
}

func newRepository() *mockRepository {
	return &mockRepository{records: []storage.TransferRecord{
		{ID: "t1", URL: "http://example.com/a", Status: storage.StatusCompleted, Bytes: 10},
		{ID: "t2", URL: "http://example.com/b", Status: storage.StatusFailed, Code: int(transfer.CodeCouldntConnect)},
	}}
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleList(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
		wantIDs    []string
	}{
		{name: "all", target: "/transfers", wantStatus: http.StatusOK, wantIDs: []string{"t1", "t2"}},
		{name: "by status", target: "/transfers?status=failed", wantStatus: http.StatusOK, wantIDs: []string{"t2"}},
		{name: "no match", target: "/transfers?status=running", wantStatus: http.StatusOK, wantIDs: []string{}},
		{name: "unknown status", target: "/transfers?status=done", wantStatus: http.StatusBadRequest},
		{name: "repository error", target: "/transfers", err: errors.New("disk I/O error"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepository()
			repo.err = tt.err

			rec := serve(t, NewTransfersHandler("", "", repo, nil).Routes(), http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantIDs == nil {
				return
			}

			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var records []storage.TransferRecord
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))

			ids := []string{}
			for _, r := range records {
				ids = append(ids, r.ID)
			}

			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandleGet(t *testing.T) {
	h := NewTransfersHandler("", "", newRepository(), nil).Routes()

	rec := serve(t, h, http.MethodGet, "/transfers/t2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got storage.TransferRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t2", got.ID)
	assert.Equal(t, int(transfer.CodeCouldntConnect), got.Code)

	rec = serve(t, h, http.MethodGet, "/transfers/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFetch(t *testing.T) {
	f := &mockFetcher{results: []downloader.Result{
		{ID: "n1", URL: "http://example.com/a", Path: "a", Status: storage.StatusCompleted, Code: transfer.CodeOK, Bytes: 3, Duration: 1500 * time.Millisecond},
		{ID: "n2", URL: "http://example.com/b", Path: "b", Status: storage.StatusFailed, Code: transfer.CodeHTTPReturnedError},
	}}

	h := NewTransfersHandler("", "", newRepository(), f).Routes()

	rec := serve(t, h, http.MethodPost, "/transfers",
		`{"transfers":[{"url":"http://example.com/a"},{"url":"http://example.com/b","path":"b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, f.got, 2)
	assert.Equal(t, downloader.Request{URL: "http://example.com/b", Path: "b"}, f.got[1])

	var out []FetchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)

	assert.Empty(t, out[0].Error)
	assert.InDelta(t, 1.5, out[0].Duration, 0.001)
	assert.Equal(t, int(transfer.CodeHTTPReturnedError), out[1].Code)
	assert.Equal(t, transfer.CodeHTTPReturnedError.String(), out[1].Error)
}

func TestHandleFetch_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "urls please"},
		{name: "empty batch", body: `{"transfers":[]}`},
		{name: "missing url", body: `{"transfers":[{"path":"a"}]}`},
		{name: "too many", body: `{"transfers":[` + strings.TrimSuffix(strings.Repeat(`{"url":"http://x/"},`, maxFetchURLs+1), ",") + `]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFetcher{}
			rec := serve(t, NewTransfersHandler("", "", newRepository(), f).Routes(), http.MethodPost, "/transfers", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, f.got)
		})
	}
}

func TestHandleFetch_Error(t *testing.T) {
	f := &mockFetcher{err: context.Canceled}

	rec := serve(t, NewTransfersHandler("", "", newRepository(), f).Routes(), http.MethodPost, "/transfers",
		`{"transfers":[{"url":"http://example.com/a"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFetchDisabledWithoutFetcher(t *testing.T) {
	rec := serve(t, NewTransfersHandler("", "", newRepository(), nil).Routes(), http.MethodPost, "/transfers",
		`{"transfers":[{"url":"http://example.com/a"}]}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	h := NewTransfersHandler("admin", "secret", newRepository(), nil).Routes()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "missing credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "wrong username", user: "root", pass: "secret", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "password prefix", user: "admin", pass: "secre", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "empty credentials", user: "", pass: "", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "valid", user: "admin", pass: "secret", setAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/transfers", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHealthRoutes(t *testing.T) {
	rec := serve(t, HealthRoutes(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, transfer.Version(), body["version"])
}
