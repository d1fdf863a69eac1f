package downloader

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mocknotifier "github.com/italolelis/transferkit/internal/notifier/mocks"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/storage/sqlite"
	"github.com/italolelis/transferkit/internal/transfer"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func newRepo(t *testing.T) storage.TransferRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return sqlite.NewInstrumentedTransferRepository(db, nil)
}

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello world")
	})
	mux.HandleFunc("/dir/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "second file")
	})
	mux.HandleFunc("/img", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, pngHeader)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-empty")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestFetch_DownloadsAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := fileServer(t)
	fs := memfs.New()
	repo := newRepo(t)

	var summary string

	n := mocknotifier.NewMockNotifier(ctrl)
	n.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(func(_ context.Context, content string) {
		summary = content
	}).Return(nil).Times(1)

	d := NewDownloader(fs, repo, n, nil, Options{MaxParallel: 2, ProgressInterval: 1})

	results, err := d.Fetch(context.Background(), []Request{
		{URL: srv.URL + "/a.txt"},
		{URL: srv.URL + "/dir/a.txt"},
		{URL: srv.URL + "/img", Path: "images/logo.png"},
		{URL: srv.URL + "/empty"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, res := range results {
		assert.NoError(t, res.Err, res.URL)
		assert.Equal(t, transfer.CodeOK, res.Code)
		assert.Equal(t, storage.StatusCompleted, res.Status)
	}

	assert.Equal(t, "a.txt", results[0].Path)
	assert.Equal(t, "a-1.txt", results[1].Path)
	assert.Equal(t, "images/logo.png", results[2].Path)
	assert.Equal(t, "empty", results[3].Path)

	assert.Equal(t, "text/plain; charset=utf-8", results[0].ContentType)
	assert.Equal(t, "image/png", results[2].ContentType)
	assert.Equal(t, "application/x-empty", results[3].ContentType)

	b, err := util.ReadFile(fs, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))

	b, err = util.ReadFile(fs, "a-1.txt")
	require.NoError(t, err)
	assert.Equal(t, "second file", string(b))

	b, err = util.ReadFile(fs, "images/logo.png")
	require.NoError(t, err)
	assert.Equal(t, pngHeader, string(b))
	assert.Equal(t, int64(len(pngHeader)), results[2].Bytes)

	rec, err := repo.GetTransfer(context.Background(), results[2].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, "image/png", rec.ContentType)
	assert.Equal(t, int64(len(pngHeader)), rec.Bytes)
	assert.Empty(t, rec.LockedBy)

	assert.True(t, strings.HasPrefix(summary, "Fetched 4 of 4 transfers"), summary)
}

func TestFetch_FailuresAreJournaledAndNotified(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := fileServer(t)
	fs := memfs.New()
	repo := newRepo(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refused := "http://" + l.Addr().String() + "/gone.bin"
	require.NoError(t, l.Close())

	var messages []string

	n := mocknotifier.NewMockNotifier(ctrl)
	n.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(func(_ context.Context, content string) {
		messages = append(messages, content)
	}).Return(nil).Times(3)

	d := NewDownloader(fs, repo, n, nil, Options{FailOnError: true, ConnectTimeout: 5 * time.Second})

	results, err := d.Fetch(context.Background(), []Request{
		{URL: srv.URL + "/a.txt"},
		{URL: srv.URL + "/missing.txt"},
		{URL: refused},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, storage.StatusCompleted, results[0].Status)

	assert.Equal(t, storage.StatusFailed, results[1].Status)
	assert.Equal(t, transfer.CodeHTTPReturnedError, results[1].Code)
	assert.ErrorIs(t, results[1].Err, transfer.CodeHTTPReturnedError)

	assert.Equal(t, storage.StatusFailed, results[2].Status)
	assert.Equal(t, transfer.CodeCouldntConnect, results[2].Code)

	_, err = fs.Stat("missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist, "partial files are removed")

	failed, err := repo.GetTransfersByStatus(context.Background(), storage.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, int(transfer.CodeHTTPReturnedError), failed[0].Code)
	assert.Equal(t, int(transfer.CodeCouldntConnect), failed[1].Code)

	require.Len(t, messages, 3)
	assert.Contains(t, messages[0]+messages[1], "/missing.txt")
	assert.Contains(t, messages[0]+messages[1], "/gone.bin")
	assert.Contains(t, messages[2], "Fetched 1 of 3 transfers")
}

func TestFetch_Canceled(t *testing.T) {
	started := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	repo := newRepo(t)
	d := NewDownloader(memfs.New(), repo, nil, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	results, err := d.Fetch(ctx, []Request{{URL: srv.URL + "/slow"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, transfer.CodeAbortedByCallback, results[0].Code)
	assert.Equal(t, storage.StatusFailed, results[0].Status)

	rec, err := repo.GetTransfer(context.Background(), results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Status)
}

func TestFetch_NoRequests(t *testing.T) {
	d := NewDownloader(memfs.New(), newRepo(t), nil, nil, Options{})

	_, err := d.Fetch(context.Background(), nil)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "http://example.com/files/report.pdf", want: "report.pdf"},
		{url: "http://example.com/files/", want: "files"},
		{url: "http://example.com", want: "index.html"},
		{url: "http://example.com/", want: "index.html"},
		{url: "http://example.com/a%20b.txt?x=1", want: "a b.txt"},
		{url: "::bad", want: "index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, fileName(tt.url))
		})
	}
}

func TestUniqueName(t *testing.T) {
	names := make(map[string]int)

	assert.Equal(t, "a.txt", uniqueName(names, "a.txt"))
	assert.Equal(t, "a-1.txt", uniqueName(names, "a.txt"))
	assert.Equal(t, "a-2.txt", uniqueName(names, "a.txt"))
	assert.Equal(t, "b", uniqueName(names, "b"))
	assert.Equal(t, "b-1", uniqueName(names, "b"))
}

func TestUniqueName_GeneratedNameAlreadyRequested(t *testing.T) {
	tests := []struct {
		name  string
		input []string
	}{
		{name: "explicit after generated", input: []string{"a.txt", "a.txt", "a-1.txt"}},
		{name: "explicit before generated", input: []string{"a-1.txt", "a.txt", "a.txt"}},
		{name: "without extension", input: []string{"b", "b-1", "b", "b", "b-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := make(map[string]int)
			seen := make(map[string]bool)

			for _, in := range tt.input {
				got := uniqueName(names, in)
				assert.False(t, seen[got], "%s handed out twice", got)
				seen[got] = true
			}

			assert.Len(t, seen, len(tt.input))
		})
	}
}
