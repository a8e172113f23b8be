// Package server wires the rendezvous hub into an HTTP surface: the
// websocket signaling endpoint, the REST discovery endpoint, and a
// liveness probe.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/peertable/peertable/internal/lobbyserver"
	"github.com/peertable/peertable/internal/protocol"
)

// Configure the websocket upgrader. Origin is not checked: peers connect
// from CLIs and arbitrary hosts, not from a fixed frontend domain.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SetupRoutes mounts the signaling websocket, the REST games listing, and
// the health probe on a chi router.
func SetupRoutes(hub *lobbyserver.Hub) http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", ServeWs(hub))
	r.Get("/api/games", ListGames(hub.Registry()))
	r.Get("/health", Health)
	return r
}

// ServeWs upgrades the HTTP connection and hands the socket to the hub.
func ServeWs(hub *lobbyserver.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		client := &lobbyserver.Client{
			Hub:  hub,
			Conn: conn,
			Send: make(chan *protocol.SignalMessage, 256),
		}

		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

// ListGames is a synchronous read of the same registry discover-games
// serves over the socket.
func ListGames(registry *lobbyserver.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(registry.List()); err != nil {
			slog.Warn("encode games listing", "error", err)
		}
	}
}

// Health is a plain-text liveness probe.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Rendezvous server is healthy."))
}
