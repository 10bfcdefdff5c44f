package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harshpratap3205/VedioCall/internal/signaling"
)

// Configure the websocket upgrader. Room tokens are the only access
// control, so cross-origin browser clients are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades the connection,
// assigns it a connection ID, and hands it to the hub.
func ServeWs(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &signaling.Client{
			Hub:      hub,
			Conn:     conn,
			ID:       signaling.NewClientID(),
			JoinedAt: time.Now(),
			Send:     make(chan *signaling.Envelope, 256),
		}

		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

// Health responds to liveness probes.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// ServerInfo reports active room and user counts. The snapshot request
// is answered inside the hub loop, so the counts are consistent with
// whatever event was processed last.
func ServerInfo(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan signaling.Snapshot, 1)

		select {
		case hub.Snapshots <- reply:
		case <-time.After(2 * time.Second):
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}

		snap := <-reply
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"activeRooms": snap.ActiveRooms,
			"activeUsers": snap.ActiveUsers,
			"timestamp":   time.Now().UTC(),
		})
	}
}

// Routes wires all handlers onto a fresh mux.
func Routes(hub *signaling.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", Health)
	mux.HandleFunc("/api/health", Health)
	mux.HandleFunc("/api/server-info", ServerInfo(hub))
	mux.HandleFunc("/ws", ServeWs(hub))
	return mux
}
