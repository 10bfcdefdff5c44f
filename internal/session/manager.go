// Package session manages one WebRTC peer session per remote user in a
// room: negotiation, candidate queueing, recovery, and teardown. It
// talks to the outside world through a Signaler for outbound messages
// and an Events struct for inbound notifications, so it carries no
// transport or UI dependencies of its own.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harshpratap3205/VedioCall/internal/media"
)

// Signaler delivers outbound negotiation messages to a remote user.
type Signaler interface {
	SendOffer(targetID string, sdp webrtc.SessionDescription) error
	SendAnswer(targetID string, sdp webrtc.SessionDescription) error
	SendCandidate(targetID string, candidate webrtc.ICECandidateInit) error
}

// Events are the manager's notifications to the application. Any field
// may be nil. Callbacks run on internal goroutines and must not block.
type Events struct {
	OnStatus func(remoteID string, status Status)
	OnTrack  func(remoteID string, track *webrtc.TrackRemote)
	OnRTT    func(remoteID string, rtt time.Duration)
}

// Manager owns the set of peer sessions, keyed by remote user ID.
type Manager struct {
	localID  string
	signaler Signaler
	events   Events
	source   media.Source

	api        *webrtc.API
	iceServers []webrtc.ICEServer
	policy     webrtc.ICETransportPolicy

	mu     sync.Mutex
	peers  map[string]*Peer
	closed bool
}

// Option adjusts manager construction.
type Option func(*Manager)

// WithICEServers sets the STUN/TURN servers for new connections.
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(m *Manager) { m.iceServers = servers }
}

// WithTransportPolicy forces a candidate policy, e.g. relay-only.
func WithTransportPolicy(policy webrtc.ICETransportPolicy) Option {
	return func(m *Manager) { m.policy = policy }
}

// WithSettingEngine builds connections from a custom engine. Tests use
// it to allow loopback candidates.
func WithSettingEngine(se webrtc.SettingEngine) Option {
	return func(m *Manager) { m.api = webrtc.NewAPI(webrtc.WithSettingEngine(se)) }
}

// NewManager creates a manager for the local user. source provides the
// outgoing tracks attached to every new connection.
func NewManager(localID string, source media.Source, signaler Signaler, events Events, opts ...Option) *Manager {
	m := &Manager{
		localID:  localID,
		signaler: signaler,
		events:   events,
		source:   source,
		policy:   webrtc.ICETransportPolicyAll,
		peers:    make(map[string]*Peer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.api == nil {
		m.api = webrtc.NewAPI()
	}
	return m
}

func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	return m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         m.iceServers,
		ICETransportPolicy: m.policy,
	})
}

func (m *Manager) localTracks() []webrtc.TrackLocal {
	if m.source == nil {
		return nil
	}
	return media.Tracks(m.source)
}

// HandleUserJoined starts a session toward a user who just entered the
// room. Existing members offer and the newcomer answers, so the two
// sides of a join never both offer.
func (m *Manager) HandleUserJoined(remoteID, remoteName string) error {
	if remoteID == m.localID {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError("handle user joined", ErrPeerClosed)
	}
	if _, ok := m.peers[remoteID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	p, err := m.newPeer(remoteID, remoteName, true)
	if err != nil {
		return err
	}
	if !m.register(p) {
		p.Close()
		return nil
	}

	if fn := m.events.OnStatus; fn != nil {
		fn(remoteID, StatusNegotiating)
	}
	return p.sendOffer(false)
}

// HandleRemoteOffer answers an incoming offer, creating the session if
// this is the first contact with the sender.
func (m *Manager) HandleRemoteOffer(fromID, fromName string, raw json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return newPeerError("parse offer", fromID, err)
	}

	m.mu.Lock()
	existing := m.peers[fromID]
	m.mu.Unlock()

	if existing != nil {
		if existing.offerer {
			if m.localID < fromID {
				// Both sides offered at once. The side with the smaller
				// user ID stays the offerer; the incoming offer is
				// dropped and the other side yields by the same rule.
				slog.Debug("discarding simultaneous offer", "peer", fromID)
				return nil
			}
			m.removePeer(fromID)
		} else {
			// Renegotiation or ICE restart on a live session.
			if err := existing.acceptOffer(offer); err != nil {
				m.removePeer(fromID)
				return err
			}
			return nil
		}
	}

	p, err := m.newPeer(fromID, fromName, false)
	if err != nil {
		return err
	}
	if !m.register(p) {
		p.Close()
		return newPeerError("accept offer", fromID, ErrUnexpectedSignal)
	}

	if fn := m.events.OnStatus; fn != nil {
		fn(fromID, StatusNegotiating)
	}
	// A session that cannot complete the answer leg is closed on the
	// spot rather than left to the connect timeout.
	if err := p.acceptOffer(offer); err != nil {
		m.removePeer(fromID)
		return err
	}
	return nil
}

// HandleRemoteAnswer completes a negotiation this side started.
func (m *Manager) HandleRemoteAnswer(fromID string, raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return newPeerError("parse answer", fromID, err)
	}

	p := m.peer(fromID)
	if p == nil {
		return newPeerError("handle answer", fromID, ErrPeerNotFound)
	}
	return p.acceptAnswer(answer)
}

// HandleRemoteCandidate routes a trickled candidate to its session. A
// candidate for an unknown peer is dropped; the sender is either gone
// already or its offer never reached us, and either way there is
// nothing to attach the candidate to.
func (m *Manager) HandleRemoteCandidate(fromID string, raw json.RawMessage) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		slog.Warn("malformed ICE candidate", "peer", fromID, "error", err)
		return
	}

	p := m.peer(fromID)
	if p == nil {
		slog.Debug("dropping candidate for unknown peer", "peer", fromID)
		return
	}
	p.addCandidate(cand)
}

// register adds p unless a session for the same remote appeared in the
// meantime or the manager closed.
func (m *Manager) register(p *Peer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if _, ok := m.peers[p.RemoteID]; ok {
		return false
	}
	m.peers[p.RemoteID] = p
	return true
}

func (m *Manager) peer(id string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

func (m *Manager) removePeer(id string) {
	m.mu.Lock()
	p := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()

	if p != nil {
		p.Close()
	}
}

// ClosePeer tears down the session with one remote user. A no-op when
// no session exists.
func (m *Manager) ClosePeer(remoteID string) {
	m.removePeer(remoteID)
}

// CloseAll tears down every session and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}

// SetAudioEnabled mutes or unmutes the outgoing audio everywhere.
func (m *Manager) SetAudioEnabled(enabled bool) {
	if m.source != nil {
		m.source.SetAudioEnabled(enabled)
	}
}

// SetVideoEnabled pauses or resumes the outgoing video everywhere.
func (m *Manager) SetVideoEnabled(enabled bool) {
	if m.source != nil {
		m.source.SetVideoEnabled(enabled)
	}
}

// StartScreenShare swaps every session's outgoing video to the screen
// track.
func (m *Manager) StartScreenShare() error {
	track, err := m.source.StartScreenShare()
	if err != nil {
		return err
	}
	return m.replaceVideoEverywhere(track)
}

// StopScreenShare restores the camera track on every session.
func (m *Manager) StopScreenShare() error {
	track, err := m.source.StopScreenShare()
	if err != nil {
		return err
	}
	return m.replaceVideoEverywhere(track)
}

func (m *Manager) replaceVideoEverywhere(track webrtc.TrackLocal) error {
	var errs []error
	for _, p := range m.snapshot() {
		if err := p.replaceVideoTrack(track); err != nil {
			slog.Warn("video track swap failed", "peer", p.RemoteID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) snapshot() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	return peers
}

// Peer returns the session for a remote user, if any.
func (m *Manager) Peer(remoteID string) (*Peer, bool) {
	p := m.peer(remoteID)
	return p, p != nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Statuses returns a point-in-time view of every session's state.
func (m *Manager) Statuses() map[string]Status {
	out := make(map[string]Status)
	for _, p := range m.snapshot() {
		out[p.RemoteID] = p.Status()
	}
	return out
}
