package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP payloads are a few
	// kilobytes; 64 KB leaves generous headroom.
	maxMessageSize = 64 * 1024
)

// Client is a wrapper for a single websocket connection and carries the
// server-authoritative user record for that connection.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	// ID is the connection identifier, assigned at upgrade time and
	// invalidated at disconnect.
	ID string

	// Name is the display name, set on join.
	Name string

	// RoomID is the current room membership; empty until joined.
	RoomID string

	// Advisory media flags, updated by toggle events. Not enforced.
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool

	JoinedAt time.Time

	// Send is the buffered channel of outbound envelopes. The write
	// pump is the only reader.
	Send chan *Envelope
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. All reads
// happen from this goroutine, so there is at most one reader per
// connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := c.Conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "client", c.ID, "error", err)
			}
			break
		}

		env.client = c
		c.Hub.Inbound <- &env
	}
}

// WritePump pumps messages from the hub to the websocket connection and
// keeps the connection alive with periodic pings. All writes happen from
// this goroutine, so there is at most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(env); err != nil {
				slog.Warn("websocket write failed", "client", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
