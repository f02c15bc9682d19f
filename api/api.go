// Package api serves the check history over HTTP.
//
//	GET /health              liveness
//	GET /api/checks?limit=N  recent checks, newest first
//	GET /api/checks/latest   newest verdict per URL
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/stockwatch/store"
)

// MaxLimit caps the limit query parameter.
const MaxLimit = 500

// History is the read side of the check store. *store.Store satisfies it.
type History interface {
	RecentChecks(ctx context.Context, limit int) ([]store.Check, error)
	LatestByURL(ctx context.Context) ([]store.Check, error)
}

// NewRouter builds the status API router.
func NewRouter(h History, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, requestLog(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/checks", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit := queryInt(r, "limit", 50)
			if limit > MaxLimit {
				limit = MaxLimit
			}
			checks, err := h.RecentChecks(r.Context(), limit)
			if err != nil {
				logger.Error("api: recent checks", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, nonNil(checks))
		})

		r.Get("/latest", func(w http.ResponseWriter, r *http.Request) {
			checks, err := h.LatestByURL(r.Context())
			if err != nil {
				logger.Error("api: latest checks", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, nonNil(checks))
		})
	})

	return r
}

func nonNil(c []store.Check) []store.Check {
	if c == nil {
		return []store.Check{}
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
