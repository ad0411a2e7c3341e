package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mcdev12/typerace/go/internal/rooms"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/rs/zerolog/log"
)

// RoomLister is the read side of the room store
type RoomLister interface {
	ListRooms() []rooms.Summary
}

// WebSocketHandler handles WebSocket upgrade requests for both channels
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	login             Dispatcher
	game              Dispatcher
	rooms             RoomLister
}

func NewWebSocketHandler(cm *ConnectionManager, login, game Dispatcher, lister RoomLister) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		login:             login,
		game:              game,
		rooms:             lister,
	}
}

// HandleLoginConnection upgrades an identity channel connection
func (h *WebSocketHandler) HandleLoginConnection(w http.ResponseWriter, r *http.Request) {
	h.upgrade(w, r, session.NamespaceLogin, "", h.login)
}

// HandleGameConnection upgrades a game channel connection. The display name
// chosen on the identity channel comes along as the username query value.
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	h.upgrade(w, r, session.NamespaceGame, username, h.game)
}

func (h *WebSocketHandler) upgrade(w http.ResponseWriter, r *http.Request, ns session.Namespace, username string, d Dispatcher) {
	// Upgrade writes its own HTTP error response on failure
	if err := h.connectionManager.UpgradeConnection(w, r, ns, username, d); err != nil {
		log.Warn().
			Err(err).
			Str("namespace", string(ns)).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// HandleListRooms returns the same list UPDATE_ROOMS carries
func (h *WebSocketHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.ListRooms())
}

// RegisterRoutes registers WebSocket and room routes on router
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/login", h.HandleLoginConnection).Methods(http.MethodGet)
	router.HandleFunc("/ws/game", h.HandleGameConnection).Methods(http.MethodGet)
	router.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms", h.HandleListRooms).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write JSON response")
	}
}
