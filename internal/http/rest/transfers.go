package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/transferkit/internal/downloader"
	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/transfer"
)

const maxFetchURLs = 100

// Fetcher runs a batch of transfers.
type Fetcher interface {
	Fetch(ctx context.Context, reqs []downloader.Request) ([]downloader.Result, error)
}

type FetchRequest struct {
	Transfers []struct {
		URL  string `json:"url"`
		Path string `json:"path"`
	} `json:"transfers"`
}

type FetchResult struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Path        string         `json:"path"`
	Status      storage.Status `json:"status"`
	Code        int            `json:"code"`
	Error       string         `json:"error,omitempty"`
	Bytes       int64          `json:"bytes"`
	ContentType string         `json:"content_type,omitempty"`
	Duration    float64        `json:"duration_seconds"`
}

type TransfersHandler struct {
	username string
	password string
	repo     storage.TransferReadRepository
	fetcher  Fetcher
}

// NewTransfersHandler creates the handler for the transfer journal. Basic auth is
// enforced when username is not empty.
func NewTransfersHandler(username, password string, repo storage.TransferReadRepository, fetcher Fetcher) *TransfersHandler {
	return &TransfersHandler{
		username: username,
		password: password,
		repo:     repo,
		fetcher:  fetcher,
	}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/transfers", h.HandleList)
	r.Get("/transfers/{id}", h.HandleGet)

	if h.fetcher != nil {
		r.Post("/transfers", h.HandleFetch)
	}

	return r
}

// HandleList returns the journal, optionally filtered by ?status=.
func (h *TransfersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		records []storage.TransferRecord
		err     error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		if !storage.Status(status).Valid() {
			http.Error(w, "unknown status "+status, http.StatusBadRequest)

			return
		}

		records, err = h.repo.GetTransfersByStatus(r.Context(), storage.Status(status))
	} else {
		records, err = h.repo.GetTransfers(r.Context())
	}

	if err != nil {
		logger.Error("failed to list transfers", "err", err)
		http.Error(w, "failed to list transfers", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.TransferRecord{}
	}

	writeJSON(r.Context(), w, http.StatusOK, records)
}

// HandleGet returns one journal entry.
func (h *TransfersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetTransfer(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "transfer not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.Error("failed to get transfer", "transfer_id", id, "err", err)
		http.Error(w, "failed to get transfer", http.StatusInternalServerError)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, rec)
}

// HandleFetch runs the posted batch and answers once every transfer finished.
func (h *TransfersHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.Transfers) == 0 || len(req.Transfers) > maxFetchURLs {
		http.Error(w, "between 1 and 100 transfers are required", http.StatusBadRequest)

		return
	}

	reqs := make([]downloader.Request, 0, len(req.Transfers))

	for _, t := range req.Transfers {
		if t.URL == "" {
			http.Error(w, "transfer url is required", http.StatusBadRequest)

			return
		}

		reqs = append(reqs, downloader.Request{URL: t.URL, Path: t.Path})
	}

	results, err := h.fetcher.Fetch(r.Context(), reqs)
	if err != nil {
		logger.Error("failed to fetch", "err", err)
		http.Error(w, "failed to fetch: "+err.Error(), http.StatusInternalServerError)

		return
	}

	out := make([]FetchResult, 0, len(results))
	for _, res := range results {
		out = append(out, toFetchResult(res))
	}

	writeJSON(r.Context(), w, http.StatusOK, out)
}

func toFetchResult(res downloader.Result) FetchResult {
	out := FetchResult{
		ID:          res.ID,
		URL:         res.URL,
		Path:        res.Path,
		Status:      res.Status,
		Code:        int(res.Code),
		Bytes:       res.Bytes,
		ContentType: res.ContentType,
		Duration:    res.Duration.Round(time.Millisecond).Seconds(),
	}

	if res.Err != nil {
		out.Error = res.Err.Error()
	} else if res.Code != transfer.CodeOK {
		out.Error = res.Code.String()
	}

	return out
}

func (h *TransfersHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
