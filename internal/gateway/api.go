// ABOUTME: HTTP routes for the gateway: history endpoint, health, websocket upgrade
// ABOUTME: History is authenticated and paginates with an opaque id cursor

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/skillswap/chat-gateway/internal/auth"
	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/store"
)

// Router builds the gateway's HTTP routes.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", g.HandleWS)

	api := r.PathPrefix("/conversations").Subrouter()
	api.Use(auth.HTTPMiddleware(g.verifier))
	api.HandleFunc("/{id}/messages", g.handleMessages).Methods(http.MethodGet)

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, g.logger)
}

// handleMessages serves one history page, newest page first, each page in
// chronological order. A conversation the caller cannot see and a
// conversation that does not exist are both 404.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"}, g.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		// Non-numeric limits fall back to the default rather than failing.
		limit, _ = strconv.Atoi(raw)
	}
	var cursor int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || cursor <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"}, g.logger)
			return
		}
	}

	page, err := g.chat.History(r.Context(), identity.UserID, conversationID, limit, cursor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, page, g.logger)
	case errors.Is(err, chat.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, g.logger)
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"}, g.logger)
	default:
		g.logger.Error("history query failed", "error", err, "conversation_id", conversationID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, g.logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("response write failed", "error", err)
	}
}
