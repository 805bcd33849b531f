// Package api exposes the query service over HTTP. Errors use an
// OpenAI-style JSON envelope so generic clients can parse them.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/perebor/askdb/internal/agent"
	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/profile"
	"github.com/perebor/askdb/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// InteractionStore is the slice of storage.Store the handlers read.
type InteractionStore interface {
	GetInteraction(id string) (storage.Interaction, error)
	GetRecentInteractions(limit int) ([]storage.Interaction, error)
	UpdateFeedback(id string, score int, notes string) error
}

// Deps holds handler dependencies.
type Deps struct {
	Agent    *agent.Orchestrator
	Store    InteractionStore
	Profiles *profile.Manager
	Token    string
}

// NewHandler builds the full HTTP surface. /health is open; everything
// else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/query", handleQuery(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/cache/clear", handleCacheClear(deps))
		r.Get("/profile/{user}", handleGetProfile(deps))
		r.Patch("/profile/{user}", handlePatchProfile(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Post("/interactions/{id}/feedback", handleFeedback(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req agent.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Agent.Query(r.Context(), req)
		if err != nil {
			writeQueryError(w, err)
			return
		}

		writeJSON(w, res)
	}
}

func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query text is required")
	case errors.Is(err, agent.ErrUnknownTable):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case llm.IsUpstreamError(err):
		httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
	case errors.Is(err, storage.ErrNotReadOnly):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Agent.Stats())
	}
}

func handleCacheClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Scope string `json:"scope"`
		}
		// An empty body clears everything.
		_ = json.NewDecoder(r.Body).Decode(&req)

		removed := deps.Agent.ClearCache(req.Scope)
		writeJSON(w, map[string]int{"removed": removed})
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		p, err := deps.Profiles.GetProfile(user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			ExpertiseLevel     int `json:"expertise_level"`
			ProcessingCapacity int `json:"processing_capacity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ExpertiseLevel == 0 && req.ProcessingCapacity == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to update")
			return
		}

		p, err := deps.Profiles.SetLevels(user, req.ExpertiseLevel, req.ProcessingCapacity)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, interaction)
	}
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Score int    `json:"score"`
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Score < -1 || req.Score > 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score must be -1, 0, or 1")
			return
		}

		err := deps.Store.UpdateFeedback(id, req.Score, req.Notes)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record feedback: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
