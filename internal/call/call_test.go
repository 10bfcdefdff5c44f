package call

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/harshpratap3205/VedioCall/internal/channel"
	"github.com/harshpratap3205/VedioCall/internal/config"
	"github.com/harshpratap3205/VedioCall/internal/media"
	"github.com/harshpratap3205/VedioCall/internal/server"
	"github.com/harshpratap3205/VedioCall/internal/session"
	"github.com/harshpratap3205/VedioCall/internal/signaling"
)

// startServer runs the real hub behind an httptest server, so these
// tests cover the full path: client -> websocket -> relay -> client.
func startServer(t *testing.T) string {
	t.Helper()
	hub := signaling.NewHub()
	go hub.Run()
	ts := httptest.NewServer(server.Routes(hub))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// connDropper keeps the server side of every accepted websocket so a
// test can sever one client's connection and watch it recover.
type connDropper struct {
	mu    sync.Mutex
	conns []*ws.Conn
}

// drop closes the nth accepted connection, in accept order.
func (d *connDropper) drop(n int) {
	d.mu.Lock()
	conn := d.conns[n]
	d.mu.Unlock()
	conn.Close()
}

// startDroppableServer runs the hub behind an upgrade handler that
// registers every connection with a connDropper before handing it to
// the hub, wired the same way server.ServeWs does.
func startDroppableServer(t *testing.T) (string, *connDropper) {
	t.Helper()
	hub := signaling.NewHub()
	go hub.Run()
	dropper := &connDropper{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dropper.mu.Lock()
		dropper.conns = append(dropper.conns, conn)
		dropper.mu.Unlock()

		client := &signaling.Client{
			Hub:      hub,
			Conn:     conn,
			ID:       signaling.NewClientID(),
			JoinedAt: time.Now(),
			Send:     make(chan *signaling.Envelope, 256),
		}
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", dropper
}

type joinedEvent struct {
	roomID string
	userID string
	others []Participant
}

type toggleEvent struct {
	userID  string
	kind    string
	enabled bool
}

type eventRec struct {
	joined  chan joinedEvent
	joins   chan Participant
	lefts   chan string
	chats   chan signaling.ChatBroadcast
	toggles chan toggleEvent
	states  chan channel.State

	mu       sync.Mutex
	statuses map[string]session.Status
}

func newEventRec() *eventRec {
	return &eventRec{
		joined:   make(chan joinedEvent, 4),
		joins:    make(chan Participant, 4),
		lefts:    make(chan string, 4),
		chats:    make(chan signaling.ChatBroadcast, 8),
		toggles:  make(chan toggleEvent, 8),
		states:   make(chan channel.State, 8),
		statuses: make(map[string]session.Status),
	}
}

func (r *eventRec) events() Events {
	return Events{
		OnJoined: func(roomID, userID string, others []Participant) {
			r.joined <- joinedEvent{roomID, userID, others}
		},
		OnParticipantJoined: func(p Participant) { r.joins <- p },
		OnParticipantLeft:   func(userID, _ string) { r.lefts <- userID },
		OnChat:              func(msg signaling.ChatBroadcast) { r.chats <- msg },
		OnToggle: func(userID, kind string, enabled bool) {
			r.toggles <- toggleEvent{userID, kind, enabled}
		},
		OnParticipantState: func(userID string, status session.Status) {
			r.mu.Lock()
			r.statuses[userID] = status
			r.mu.Unlock()
		},
		OnChannelState: func(state channel.State, _ error) {
			r.states <- state
		},
	}
}

func (r *eventRec) waitJoined(t *testing.T) joinedEvent {
	t.Helper()
	select {
	case ev := <-r.joined:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no joined-room reply")
		return joinedEvent{}
	}
}

// waitState drains channel state transitions until the wanted one
// arrives.
func (r *eventRec) waitState(t *testing.T, want channel.State) {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("channel never reached %v", want)
		}
	}
}

func (r *eventRec) waitStatus(t *testing.T, userID string, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := r.statuses[userID]
		r.mu.Unlock()
		if got == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("peer %s never reached %v", userID, want)
}

func loopbackEngine() webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	return se
}

func newTestCall(t *testing.T, wsURL string) (*Call, *eventRec) {
	t.Helper()
	src, err := media.NewSyntheticSource(true, true)
	if err != nil {
		t.Fatalf("synthetic source: %v", err)
	}

	// An unreachable STUN address keeps the test offline; loopback host
	// candidates carry the connection.
	cfg := &config.Config{
		Server:       "127.0.0.1:0",
		WebSocketURL: wsURL,
		STUNServer:   "stun:127.0.0.1:1",
	}

	rec := newEventRec()
	c := New(cfg, src, rec.events(),
		WithSessionOptions(session.WithSettingEngine(loopbackEngine())))
	t.Cleanup(c.Close)
	return c, rec
}

func TestTwoClientsConnectThroughRelay(t *testing.T) {
	wsURL := startServer(t)

	a, recA := newTestCall(t, wsURL)
	b, recB := newTestCall(t, wsURL)

	if err := a.Join("room-1", "Alice", "video"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	evA := recA.waitJoined(t)
	if evA.roomID != "room-1" || evA.userID == "" || len(evA.others) != 0 {
		t.Fatalf("alice joined = %+v", evA)
	}

	if err := b.Join("room-1", "Bob", "video"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	evB := recB.waitJoined(t)
	if len(evB.others) != 1 || evB.others[0].Name != "Alice" {
		t.Fatalf("bob's member list = %+v", evB.others)
	}

	// Alice hears about Bob and offers; the sessions come up end to end.
	select {
	case p := <-recA.joins:
		if p.Name != "Bob" {
			t.Fatalf("alice saw %q join", p.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alice never saw bob join")
	}

	recA.waitStatus(t, evB.userID, session.StatusConnected)
	recB.waitStatus(t, evA.userID, session.StatusConnected)
}

func TestChatDeliversOneStampedCopyToEveryone(t *testing.T) {
	wsURL := startServer(t)

	a, recA := newTestCall(t, wsURL)
	b, recB := newTestCall(t, wsURL)

	if err := a.Join("room-chat", "Alice", "video"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	evA := recA.waitJoined(t)
	if err := b.Join("room-chat", "Bob", "video"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	recB.waitJoined(t)

	if err := a.Chat("hello there"); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	for name, ch := range map[string]chan signaling.ChatBroadcast{"alice": recA.chats, "bob": recB.chats} {
		select {
		case msg := <-ch:
			if msg.Message != "hello there" || msg.UserID != evA.userID {
				t.Fatalf("%s got %+v", name, msg)
			}
			if msg.ID == "" || msg.Timestamp.IsZero() {
				t.Fatalf("%s copy missing server stamp: %+v", name, msg)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s never received the chat message", name)
		}
	}

	// Exactly one copy each.
	select {
	case msg := <-recB.chats:
		t.Fatalf("bob received a duplicate: %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChatBeforeJoinIsRejectedLocally(t *testing.T) {
	wsURL := startServer(t)
	a, _ := newTestCall(t, wsURL)

	if err := a.Chat("too early"); err != ErrNotJoined {
		t.Fatalf("Chat before join = %v, want ErrNotJoined", err)
	}
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	wsURL := startServer(t)

	a, recA := newTestCall(t, wsURL)
	b, recB := newTestCall(t, wsURL)

	if err := a.Join("room-leave", "Alice", "video"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	recA.waitJoined(t)
	if err := b.Join("room-leave", "Bob", "video"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	evB := recB.waitJoined(t)

	b.Leave()

	select {
	case userID := <-recA.lefts:
		if userID != evB.userID {
			t.Fatalf("user-left for %q, want %q", userID, evB.userID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alice never saw bob leave")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.Participants()) == 0 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("alice still lists participants: %+v", a.Participants())
}

func TestAudioTogglePropagates(t *testing.T) {
	wsURL := startServer(t)

	a, recA := newTestCall(t, wsURL)
	b, recB := newTestCall(t, wsURL)

	if err := a.Join("room-toggle", "Alice", "video"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	evA := recA.waitJoined(t)
	if err := b.Join("room-toggle", "Bob", "video"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	recB.waitJoined(t)

	if err := a.SetAudio(false); err != nil {
		t.Fatalf("SetAudio: %v", err)
	}

	select {
	case ev := <-recB.toggles:
		if ev.userID != evA.userID || ev.kind != ToggleAudio || ev.enabled {
			t.Fatalf("toggle = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bob never saw the toggle")
	}

	for _, p := range b.Participants() {
		if p.ID == evA.userID && p.AudioEnabled {
			t.Fatal("participant flag not updated")
		}
	}
}

func TestChannelDropRejoinsWithFreshIdentity(t *testing.T) {
	wsURL, dropper := startDroppableServer(t)

	a, recA := newTestCall(t, wsURL)
	b, recB := newTestCall(t, wsURL)

	if err := a.Join("room-drop", "Alice", "video"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	evA := recA.waitJoined(t)
	if err := b.Join("room-drop", "Bob", "video"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	evB := recB.waitJoined(t)

	select {
	case <-recA.joins:
	case <-time.After(5 * time.Second):
		t.Fatal("alice never saw bob join")
	}
	recA.waitStatus(t, evB.userID, session.StatusConnected)
	recB.waitStatus(t, evA.userID, session.StatusConnected)

	// Sever bob's websocket from the server side. His channel reconnects
	// and re-announces membership on its own.
	dropper.drop(1)
	recB.waitState(t, channel.StateReconnecting)
	recB.waitState(t, channel.StateConnected)

	evB2 := recB.waitJoined(t)
	if evB2.roomID != "room-drop" {
		t.Fatalf("rejoined room = %q", evB2.roomID)
	}
	if evB2.userID == evB.userID {
		t.Fatal("rejoin should carry a fresh server-assigned identity")
	}
	if len(evB2.others) != 1 || evB2.others[0].ID != evA.userID {
		t.Fatalf("bob's member list after rejoin = %+v", evB2.others)
	}
	if b.UserID() != evB2.userID {
		t.Fatalf("UserID = %q, want %q", b.UserID(), evB2.userID)
	}

	// Alice sees the old identity leave and the new one arrive.
	select {
	case userID := <-recA.lefts:
		if userID != evB.userID {
			t.Fatalf("user-left for %q, want %q", userID, evB.userID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("alice never saw bob's old identity leave")
	}
	select {
	case p := <-recA.joins:
		if p.ID != evB2.userID {
			t.Fatalf("user-joined for %q, want %q", p.ID, evB2.userID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("alice never saw bob rejoin")
	}

	// Fresh sessions come up under the new identity on both views.
	recA.waitStatus(t, evB2.userID, session.StatusConnected)
	deadline := time.Now().Add(20 * time.Second)
	for {
		ps := b.Participants()
		if len(ps) == 1 && ps[0].ID == evA.userID && ps[0].Status == session.StatusConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bob's view never recovered: %+v", ps)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
