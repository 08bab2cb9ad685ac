// Package api implements the HTTP surface: the public chat endpoints and the
// bearer-protected management routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amparo-app/amparo/internal/pipeline"
	"github.com/amparo-app/amparo/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultListLimit = 50

// ChatPipeline processes one inbound chat message.
// Implemented by pipeline.Dispatcher.
type ChatPipeline interface {
	Handle(ctx context.Context, msg pipeline.InboundMessage) (pipeline.Result, error)
}

// Deps holds the handler dependencies.
type Deps struct {
	Pipeline ChatPipeline
	Store    *storage.Store
	// APIToken guards the management routes. Empty leaves them open, which
	// is only sensible for local development.
	APIToken string
}

// NewHandler returns the service's HTTP handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps.Pipeline))
	r.Get("/conversations/{conversationID}/messages", handleListMessages(deps.Store))
	r.Get("/resources", handleListResources(deps.Store))

	r.Group(func(mr chi.Router) {
		if deps.APIToken != "" {
			mr.Use(BearerAuth(deps.APIToken))
		}
		mr.Get("/rules", handleListRules(deps.Store))
		mr.Post("/rules", handleCreateRule(deps.Store))
		mr.Post("/resources", handleCreateResource(deps.Store))
		mr.Get("/sobriety/{userID}", handleGetSobriety(deps.Store))
		mr.Post("/sobriety", handleCreateSobriety(deps.Store))
		mr.Post("/moods", handleCreateMood(deps.Store))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type chatResponse struct {
	Response             string           `json:"response"`
	ConversationID       string           `json:"conversationId"`
	CrisisDetected       bool             `json:"crisisDetected"`
	CrisisLevel          storage.Severity `json:"crisisLevel"`
	RequiresIntervention *bool            `json:"requiresIntervention,omitempty"`
}

func handleChat(p ChatPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "message is required")
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "userId is required")
			return
		}
		if req.ConversationID == "" {
			req.ConversationID = uuid.New().String()
		}

		result, err := p.Handle(r.Context(), pipeline.InboundMessage{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Text:           req.Message,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "processing message: %v", err)
			return
		}

		resp := chatResponse{
			Response:       result.Response,
			ConversationID: req.ConversationID,
			CrisisDetected: result.CrisisDetected,
			CrisisLevel:    result.CrisisLevel,
		}
		if result.CrisisDetected {
			resp.RequiresIntervention = &result.RequiresIntervention
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListMessages(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationID")

		msgs, err := store.ListMessages(conversationID, queryLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

func handleListResources(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resources, err := store.ListSupportResources(r.URL.Query().Get("category"), queryLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing resources: %v", err)
			return
		}
		if resources == nil {
			resources = []storage.SupportResource{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
	}
}

// queryLimit reads the limit query parameter, falling back to the default
// for absent or unusable values.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
