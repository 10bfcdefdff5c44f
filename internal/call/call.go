// Package call ties the signaling channel, the peer sessions, and the
// local media source together into one room membership: join, leave,
// chat, media toggles, and the event stream the UI renders from.
package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harshpratap3205/VedioCall/internal/channel"
	"github.com/harshpratap3205/VedioCall/internal/config"
	"github.com/harshpratap3205/VedioCall/internal/media"
	"github.com/harshpratap3205/VedioCall/internal/session"
	"github.com/harshpratap3205/VedioCall/internal/signaling"
)

var (
	ErrNotJoined   = errors.New("not in a room")
	ErrChannelDown = errors.New("signaling channel not connected")
)

// Participant is the call-level view of one remote room member.
type Participant struct {
	ID            string
	Name          string
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	Status        session.Status
	RTT           time.Duration
}

// Events are the call's notifications to the UI. Any field may be nil.
// Callbacks run on internal goroutines and must not block.
type Events struct {
	OnJoined            func(roomID, userID string, others []Participant)
	OnParticipantJoined func(p Participant)
	OnParticipantLeft   func(userID, userName string)
	OnParticipantState  func(userID string, status session.Status)
	OnToggle            func(userID, kind string, enabled bool)
	OnChat              func(msg signaling.ChatBroadcast)
	OnTrack             func(userID string, track *webrtc.TrackRemote)
	OnRTT               func(userID string, rtt time.Duration)
	OnChannelState      func(state channel.State, err error)
	OnServerError       func(message string)
}

// Toggle kinds reported through Events.OnToggle.
const (
	ToggleAudio  = "audio"
	ToggleVideo  = "video"
	ToggleScreen = "screen"
)

// Call is one client's participation in a room.
type Call struct {
	cfg    *config.Config
	ch     *channel.Client
	source media.Source
	events Events

	sessionOpts []session.Option

	mu           sync.Mutex
	mgr          *session.Manager
	userID       string
	userName     string
	roomID       string
	roomType     string
	joined       bool
	closed       bool
	participants map[string]*Participant
}

// Option adjusts call construction.
type Option func(*Call)

// WithSessionOptions forwards options to the peer session manager.
// Tests use it to allow loopback candidates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Call) { c.sessionOpts = opts }
}

// New creates a call bound to the configured server. source provides
// the local media; the call takes ownership and closes it on Close.
func New(cfg *config.Config, source media.Source, events Events, opts ...Option) *Call {
	c := &Call{
		cfg:          cfg,
		ch:           channel.NewClient(cfg.WebSocketURL),
		source:       source,
		events:       events,
		participants: make(map[string]*Participant),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.ch.OnState(c.handleChannelState)
	c.ch.On(signaling.EventJoinedRoom, c.handleJoinedRoom)
	c.ch.On(signaling.EventUserJoined, c.handleUserJoined)
	c.ch.On(signaling.EventUserLeft, c.handleUserLeft)
	c.ch.On(signaling.EventOffer, c.handleOffer)
	c.ch.On(signaling.EventAnswer, c.handleAnswer)
	c.ch.On(signaling.EventICECandidate, c.handleCandidate)
	c.ch.On(signaling.EventUserAudioToggle, c.toggleHandler(ToggleAudio))
	c.ch.On(signaling.EventUserVideoToggle, c.toggleHandler(ToggleVideo))
	c.ch.On(signaling.EventUserScreenShare, c.toggleHandler(ToggleScreen))
	c.ch.On(signaling.EventChatMessage, c.handleChat)
	c.ch.On(signaling.EventError, c.handleServerError)
	return c
}

// Join connects the signaling channel and enters the room. The joined
// notification arrives through Events.OnJoined once the server replies.
func (c *Call) Join(roomID, userName, roomType string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("call closed")
	}
	c.roomID = roomID
	c.userName = userName
	c.roomType = roomType
	c.mu.Unlock()

	if !c.ch.Connected() {
		if err := c.ch.Connect(); err != nil {
			return fmt.Errorf("connect signaling: %w", err)
		}
	}

	if !c.ch.Send(signaling.EventJoinRoom, signaling.JoinRoomRequest{
		RoomID:   roomID,
		UserName: userName,
		RoomType: roomType,
	}) {
		return ErrChannelDown
	}
	return nil
}

// Leave exits the room but keeps the channel usable for a later Join.
func (c *Call) Leave() {
	c.mu.Lock()
	mgr := c.mgr
	joined := c.joined
	c.mgr = nil
	c.joined = false
	c.participants = make(map[string]*Participant)
	c.mu.Unlock()

	if joined {
		c.ch.Send(signaling.EventLeaveRoom, nil)
	}
	if mgr != nil {
		mgr.CloseAll()
	}
}

// Close leaves the room and releases the channel and media source.
func (c *Call) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Leave()
	c.ch.Close()
	if c.source != nil {
		c.source.Close()
	}
}

// Chat sends a chat message to the room. The delivered copy, stamped by
// the server, comes back through Events.OnChat like everyone else's.
func (c *Call) Chat(message string) error {
	c.mu.Lock()
	roomID := c.roomID
	joined := c.joined
	c.mu.Unlock()

	if !joined {
		return ErrNotJoined
	}
	if !c.ch.Send(signaling.EventChatMessage, signaling.ChatRequest{RoomID: roomID, Message: message}) {
		return ErrChannelDown
	}
	return nil
}

// SetAudio mutes or unmutes the microphone and announces the change.
func (c *Call) SetAudio(enabled bool) error {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return ErrNotJoined
	}

	mgr.SetAudioEnabled(enabled)
	c.ch.Send(signaling.EventAudioToggle, signaling.ToggleRequest{IsEnabled: enabled})
	return nil
}

// SetVideo pauses or resumes the camera and announces the change.
func (c *Call) SetVideo(enabled bool) error {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return ErrNotJoined
	}

	mgr.SetVideoEnabled(enabled)
	c.ch.Send(signaling.EventVideoToggle, signaling.ToggleRequest{IsEnabled: enabled})
	return nil
}

// SetScreenShare starts or stops sharing the screen in place of the
// camera and announces the change.
func (c *Call) SetScreenShare(enabled bool) error {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return ErrNotJoined
	}

	var err error
	if enabled {
		err = mgr.StartScreenShare()
	} else {
		err = mgr.StopScreenShare()
	}
	if err != nil {
		return err
	}
	c.ch.Send(signaling.EventScreenShare, signaling.ToggleRequest{IsEnabled: enabled})
	return nil
}

// Participants returns a snapshot of the remote members, sorted by name.
func (c *Call) Participants() []Participant {
	c.mu.Lock()
	mgr := c.mgr
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	c.mu.Unlock()

	if mgr != nil {
		for i := range out {
			if peer, ok := mgr.Peer(out[i].ID); ok {
				stats := peer.Stats()
				out[i].Status = stats.Status
				out[i].RTT = stats.RTT
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UserID returns the server-assigned identity, empty before the first
// joined-room reply.
func (c *Call) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// RoomID returns the room this call is joined to.
func (c *Call) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// session.Signaler implementation: negotiation messages ride the same
// envelope protocol as everything else.

func (c *Call) SendOffer(target string, sdp webrtc.SessionDescription) error {
	raw, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	if !c.ch.Send(signaling.EventOffer, signaling.OfferPayload{Offer: raw, TargetUserID: target}) {
		return ErrChannelDown
	}
	return nil
}

func (c *Call) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	raw, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	if !c.ch.Send(signaling.EventAnswer, signaling.AnswerPayload{Answer: raw, TargetUserID: target}) {
		return ErrChannelDown
	}
	return nil
}

func (c *Call) SendCandidate(target string, cand webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(cand)
	if err != nil {
		return err
	}
	if !c.ch.Send(signaling.EventICECandidate, signaling.CandidatePayload{Candidate: raw, TargetUserID: target}) {
		return ErrChannelDown
	}
	return nil
}

func (c *Call) handleChannelState(state channel.State, err error) {
	if state == channel.StateConnected {
		// After a reconnect the server sees a brand-new connection, so
		// membership has to be announced again.
		c.mu.Lock()
		rejoin := c.joined
		roomID, userName, roomType := c.roomID, c.userName, c.roomType
		c.mu.Unlock()
		if rejoin {
			slog.Info("re-announcing room membership", "room", roomID)
			c.ch.Send(signaling.EventJoinRoom, signaling.JoinRoomRequest{
				RoomID:   roomID,
				UserName: userName,
				RoomType: roomType,
			})
		}
	}

	if fn := c.events.OnChannelState; fn != nil {
		fn(state, err)
	}
}

func (c *Call) handleJoinedRoom(data json.RawMessage) {
	var reply signaling.JoinedRoomReply
	if err := json.Unmarshal(data, &reply); err != nil {
		slog.Error("bad joined-room payload", "error", err)
		return
	}

	iceServers, policy, err := iceConfig(c.cfg)
	if err != nil {
		slog.Error("ICE configuration", "error", err)
		return
	}

	c.mu.Lock()
	// A second joined-room means we rejoined under a fresh identity;
	// the old sessions are tied to the old one and must go.
	old := c.mgr
	opts := append([]session.Option{
		session.WithICEServers(iceServers),
		session.WithTransportPolicy(policy),
	}, c.sessionOpts...)
	mgr := session.NewManager(reply.UserID, c.source, c, session.Events{
		OnStatus: c.onPeerStatus,
		OnTrack:  c.events.OnTrack,
		OnRTT:    c.events.OnRTT,
	}, opts...)
	c.mgr = mgr
	c.userID = reply.UserID
	c.roomID = reply.RoomID
	c.roomType = reply.RoomType
	c.joined = true
	c.participants = make(map[string]*Participant)
	others := make([]Participant, 0, len(reply.Users))
	for _, u := range reply.Users {
		p := &Participant{
			ID:           u.ID,
			Name:         u.Name,
			AudioEnabled: u.IsAudioEnabled,
			VideoEnabled: u.IsVideoEnabled,
		}
		c.participants[u.ID] = p
		others = append(others, *p)
	}
	c.mu.Unlock()

	if old != nil {
		old.CloseAll()
	}
	if fn := c.events.OnJoined; fn != nil {
		fn(reply.RoomID, reply.UserID, others)
	}
}

func (c *Call) handleUserJoined(data json.RawMessage) {
	var notice signaling.UserJoinedNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		slog.Error("bad user-joined payload", "error", err)
		return
	}

	c.mu.Lock()
	mgr := c.mgr
	p := &Participant{
		ID:           notice.UserID,
		Name:         notice.UserName,
		AudioEnabled: notice.IsAudioEnabled,
		VideoEnabled: notice.IsVideoEnabled,
	}
	c.participants[notice.UserID] = p
	c.mu.Unlock()

	if fn := c.events.OnParticipantJoined; fn != nil {
		fn(*p)
	}
	if mgr != nil {
		if err := mgr.HandleUserJoined(notice.UserID, notice.UserName); err != nil {
			slog.Error("failed to start session", "peer", notice.UserID, "error", err)
		}
	}
}

func (c *Call) handleUserLeft(data json.RawMessage) {
	var notice signaling.UserLeftNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		slog.Error("bad user-left payload", "error", err)
		return
	}

	c.mu.Lock()
	mgr := c.mgr
	delete(c.participants, notice.UserID)
	c.mu.Unlock()

	if mgr != nil {
		mgr.ClosePeer(notice.UserID)
	}
	if fn := c.events.OnParticipantLeft; fn != nil {
		fn(notice.UserID, notice.UserName)
	}
}

func (c *Call) handleOffer(data json.RawMessage) {
	var payload signaling.OfferPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad offer payload", "error", err)
		return
	}

	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		slog.Warn("offer before join reply", "from", payload.FromUserID)
		return
	}
	if err := mgr.HandleRemoteOffer(payload.FromUserID, payload.FromUserName, payload.Offer); err != nil {
		slog.Error("failed to answer offer", "peer", payload.FromUserID, "error", err)
	}
}

func (c *Call) handleAnswer(data json.RawMessage) {
	var payload signaling.AnswerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad answer payload", "error", err)
		return
	}

	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return
	}
	if err := mgr.HandleRemoteAnswer(payload.FromUserID, payload.Answer); err != nil {
		slog.Warn("failed to apply answer", "peer", payload.FromUserID, "error", err)
	}
}

func (c *Call) handleCandidate(data json.RawMessage) {
	var payload signaling.CandidatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad candidate payload", "error", err)
		return
	}

	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return
	}
	mgr.HandleRemoteCandidate(payload.FromUserID, payload.Candidate)
}

func (c *Call) toggleHandler(kind string) channel.HandlerFunc {
	return func(data json.RawMessage) {
		var notice signaling.UserToggleNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			slog.Error("bad toggle payload", "kind", kind, "error", err)
			return
		}

		c.mu.Lock()
		if p, ok := c.participants[notice.UserID]; ok {
			switch kind {
			case ToggleAudio:
				p.AudioEnabled = notice.IsEnabled
			case ToggleVideo:
				p.VideoEnabled = notice.IsEnabled
			case ToggleScreen:
				p.ScreenSharing = notice.IsEnabled
			}
		}
		c.mu.Unlock()

		if fn := c.events.OnToggle; fn != nil {
			fn(notice.UserID, kind, notice.IsEnabled)
		}
	}
}

func (c *Call) handleChat(data json.RawMessage) {
	var msg signaling.ChatBroadcast
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("bad chat payload", "error", err)
		return
	}
	if fn := c.events.OnChat; fn != nil {
		fn(msg)
	}
}

func (c *Call) handleServerError(data json.RawMessage) {
	var payload signaling.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	slog.Warn("server rejected request", "message", payload.Message)
	if fn := c.events.OnServerError; fn != nil {
		fn(payload.Message)
	}
}

func (c *Call) onPeerStatus(userID string, status session.Status) {
	c.mu.Lock()
	if p, ok := c.participants[userID]; ok {
		p.Status = status
	}
	c.mu.Unlock()

	if fn := c.events.OnParticipantState; fn != nil {
		fn(userID, status)
	}
}

// iceConfig translates server settings into pion's configuration.
func iceConfig(cfg *config.Config) ([]webrtc.ICEServer, webrtc.ICETransportPolicy, error) {
	servers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turn := cfg.GetTURNServers()
	if turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		if turn == nil {
			return nil, policy, errors.New("relay-only requires a TURN server")
		}
		policy = webrtc.ICETransportPolicyRelay
	}
	return servers, policy, nil
}
