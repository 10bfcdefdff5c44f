package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harshpratap3205/VedioCall/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Reconnection policy: bounded attempts with increasing delay.
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 1 * time.Second
	reconnectMaxDelay    = 5 * time.Second
)

// State describes the channel's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandlerFunc receives the raw payload of one subscribed event.
type HandlerFunc func(data json.RawMessage)

// StateFunc observes channel state transitions. err is non-nil only for
// StateFailed.
type StateFunc func(state State, err error)

// Client presents a stable send/receive interface over a websocket that
// may drop and reconnect. Event subscriptions are registered on the
// Client, not on any particular underlying connection, so they survive
// reconnects. Re-announcing room membership after a reconnect is the
// application's job, driven by the StateConnected notification.
type Client struct {
	serverURL string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	handlers  map[string][]HandlerFunc
	stateFn   StateFunc

	// writeMu serializes all writes to the current connection,
	// including pings.
	writeMu sync.Mutex

	// Backoff policy, overridable in tests.
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	done chan struct{}
}

// NewClient creates a signaling channel client for the given ws:// URL.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL:   serverURL,
		handlers:    make(map[string][]HandlerFunc),
		maxAttempts: maxReconnectAttempts,
		baseDelay:   reconnectBaseDelay,
		maxDelay:    reconnectMaxDelay,
		done:        make(chan struct{}),
	}
}

// On subscribes fn to an event. Handlers run on the read goroutine in
// arrival order, preserving per-sender FIFO delivery.
func (c *Client) On(event string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnState registers the state observer. Must be called before Connect.
func (c *Client) OnState(fn StateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFn = fn
}

// Connect establishes the channel. After the first successful dial the
// client reconnects automatically with bounded backoff when the
// connection drops.
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.attach(conn)
	c.notify(StateConnected, nil)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	// Custom dialer using the resolver fallback, so a flaky system DNS
	// does not take the signaling channel down with it.
	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolved, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolved, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs a fresh connection and starts its read and ping
// goroutines.
func (c *Client) attach(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump(conn)
	go c.pingLoop(conn)
}

// readPump reads envelopes from one connection instance and dispatches
// them. When the connection dies it hands off to the reconnect loop.
func (c *Client) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			closed := c.closed
			if current {
				c.connected = false
			}
			c.mu.Unlock()

			// A stale pump from before a reconnect just exits.
			if current && !closed {
				go c.reconnect()
			}
			return
		}

		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *Envelope) {
	c.mu.Lock()
	fns := make([]HandlerFunc, len(c.handlers[env.Event]))
	copy(fns, c.handlers[env.Event])
	c.mu.Unlock()

	for _, fn := range fns {
		fn(env.Data)
	}
}

// pingLoop keeps one connection instance alive. It exits when the
// connection is replaced or the client closes.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}

			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// reconnect re-dials with increasing delay. After exhausting the
// attempts it surfaces a terminal failure instead of retrying forever.
func (c *Client) reconnect() {
	c.notify(StateReconnecting, nil)

	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err == nil {
			slog.Info("signaling channel reconnected", "attempt", attempt)
			c.attach(conn)
			c.notify(StateConnected, nil)
			return
		}

		slog.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	c.notify(StateFailed, fmt.Errorf("failed to reconnect after %d attempts", c.maxAttempts))
}

// Send marshals payload and writes it as an event envelope. When the
// channel is down the message is dropped with a warning: signaling
// messages are time-sensitive, and a stale offer delivered minutes
// later is worse than a dropped one.
func (c *Client) Send(event string, payload any) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected && !c.closed
	c.mu.Unlock()

	if !ok {
		slog.Warn("cannot send: signaling channel not connected", "event", event)
		return false
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		slog.Error("marshal envelope", "event", event, "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		slog.Warn("signaling send failed", "event", event, "error", err)
		return false
	}
	return true
}

// Connected reports whether the channel currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) notify(state State, err error) {
	c.mu.Lock()
	fn := c.stateFn
	c.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}

// Close shuts the channel down permanently. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		c.writeMu.Unlock()
		conn.Close()
	}
}
