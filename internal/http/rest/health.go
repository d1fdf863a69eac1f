package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/transferkit/internal/transfer"
)

// HealthRoutes serves the liveness probe.
func HealthRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": transfer.Version(),
			"ssl":     transfer.SSLEnabled(),
		})
	})

	return r
}
