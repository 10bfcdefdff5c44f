package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	// A session that has not reached connected within this window is
	// torn down rather than left spinning.
	connectTimeout = 30 * time.Second

	// ICE restart delays. Failed means ICE gave up, so restart quickly;
	// disconnected often heals on its own, so wait longer first.
	restartAfterFailed       = 2 * time.Second
	restartAfterDisconnected = 5 * time.Second

	offerRetryDelay = 500 * time.Millisecond
)

// Peer is one negotiated session with a remote user. All signaling for
// the session funnels through it: local and remote descriptions, the
// candidate queue, and connection recovery.
type Peer struct {
	RemoteID   string
	RemoteName string

	mgr *Manager

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	status  Status
	offerer bool
	closed  bool
	epoch   int

	// Remote candidates that arrived before the remote description.
	// Drained exactly once, in arrival order, when it lands.
	pending []webrtc.ICECandidateInit

	connectTimer *time.Timer
	recoverTimer *time.Timer

	tel *telemetry
}

func (m *Manager) newPeer(remoteID, remoteName string, offerer bool) (*Peer, error) {
	pc, err := m.newPeerConnection()
	if err != nil {
		return nil, newPeerError("create peer connection", remoteID, err)
	}

	p := &Peer{
		RemoteID:   remoteID,
		RemoteName: remoteName,
		mgr:        m,
		pc:         pc,
		status:     StatusNegotiating,
		offerer:    offerer,
	}
	p.tel = newTelemetry(func(rtt time.Duration) {
		if fn := m.events.OnRTT; fn != nil {
			fn(remoteID, rtt)
		}
	})

	for _, track := range m.localTracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, newPeerError("add local track", remoteID, err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signaler.SendCandidate(remoteID, c.ToJSON()); err != nil {
			slog.Warn("failed to send ICE candidate", "peer", remoteID, "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if fn := m.events.OnTrack; fn != nil {
			fn(remoteID, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.handleConnState(state)
	})

	// The offering side owns the telemetry channel; the answering side
	// picks it up when it arrives over SCTP.
	if offerer {
		if dc, err := pc.CreateDataChannel(telemetryLabel, nil); err == nil {
			p.tel.attach(dc)
		} else {
			slog.Warn("telemetry channel unavailable", "peer", remoteID, "error", err)
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == telemetryLabel {
				p.tel.attach(dc)
			}
		})
	}

	p.connectTimer = time.AfterFunc(connectTimeout, p.onConnectTimeout)
	return p, nil
}

// sendOffer builds a local offer and dispatches it. A description that
// cannot be built closes the session immediately. Dispatch failures are
// handled by deliverOffer.
func (p *Peer) sendOffer(restart bool) error {
	sdp, err := p.prepareOffer(restart)
	if err != nil {
		if errors.Is(err, ErrPeerClosed) {
			return err
		}
		err = newPeerError("create offer", p.RemoteID, err)
		p.fail(err)
		return err
	}
	p.deliverOffer(sdp, false)
	return nil
}

func (p *Peer) prepareOffer(restart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, ErrPeerClosed
	}
	pc := p.pc
	p.mu.Unlock()

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *pc.LocalDescription(), nil
}

// deliverOffer hands a prepared description to the signaler. The first
// send failure schedules one retry of the send alone; the local
// description is already applied, so rebuilding it would be rejected in
// the have-local-offer state. A second failure closes the session.
func (p *Peer) deliverOffer(sdp webrtc.SessionDescription, retry bool) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	err := p.mgr.signaler.SendOffer(p.RemoteID, sdp)
	if err == nil {
		return
	}
	if !retry {
		slog.Warn("offer send failed, retrying once", "peer", p.RemoteID, "error", err)
		time.AfterFunc(offerRetryDelay, func() { p.deliverOffer(sdp, true) })
		return
	}
	p.fail(newPeerError("send offer", p.RemoteID, err))
}

// acceptOffer applies a remote offer and replies with an answer.
func (p *Peer) acceptOffer(offer webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return newPeerError("accept offer", p.RemoteID, ErrPeerClosed)
	}
	pc := p.pc
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		return newPeerError("set remote offer", p.RemoteID, err)
	}
	p.drainCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return newPeerError("create answer", p.RemoteID, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return newPeerError("set local answer", p.RemoteID, err)
	}
	return p.mgr.signaler.SendAnswer(p.RemoteID, *pc.LocalDescription())
}

// acceptAnswer applies a remote answer. An answer arriving when no local
// offer is outstanding is stale and dropped without touching the
// connection.
func (p *Peer) acceptAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return newPeerError("accept answer", p.RemoteID, ErrPeerClosed)
	}
	pc := p.pc
	p.mu.Unlock()

	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		slog.Debug("discarding stale answer", "peer", p.RemoteID, "state", pc.SignalingState())
		return nil
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return newPeerError("set remote answer", p.RemoteID, err)
	}
	p.drainCandidates()
	return nil
}

// addCandidate applies a remote candidate, queueing it if the remote
// description has not arrived yet.
func (p *Peer) addCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return
	}
	pc := p.pc
	p.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		slog.Warn("rejected ICE candidate", "peer", p.RemoteID, "error", err)
	}
}

func (p *Peer) drainCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	pc := p.pc
	p.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			slog.Warn("queued ICE candidate rejected", "peer", p.RemoteID, "error", err)
		}
	}
}

func (p *Peer) handleConnState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		p.mu.Lock()
		p.stopTimersLocked()
		p.mu.Unlock()
		p.setStatus(StatusConnected)

	case webrtc.PeerConnectionStateFailed:
		p.scheduleRecovery(restartAfterFailed)

	case webrtc.PeerConnectionStateDisconnected:
		p.scheduleRecovery(restartAfterDisconnected)
	}
}

func (p *Peer) scheduleRecovery(delay time.Duration) {
	p.mu.Lock()
	if p.closed || p.recoverTimer != nil {
		p.mu.Unlock()
		return
	}
	epoch := p.epoch
	p.recoverTimer = time.AfterFunc(delay, func() { p.recover(epoch) })
	p.mu.Unlock()

	p.setStatus(StatusRecovering)
}

// recover fires after the restart delay. If the connection healed in the
// meantime, or the timer belongs to a previous life of the session, it
// does nothing.
func (p *Peer) recover(epoch int) {
	p.mu.Lock()
	if p.closed || p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.recoverTimer = nil
	pc := p.pc
	offerer := p.offerer
	p.mu.Unlock()

	if pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		p.setStatus(StatusConnected)
		return
	}

	// Recovery is bounded either way: if nothing reconnects within the
	// window the session is torn down rather than left recovering.
	p.resetConnectTimer()

	// Only the offering side can launch an ICE restart. The answering
	// side rides along when the restart offer arrives.
	if !offerer {
		return
	}

	slog.Info("attempting ICE restart", "peer", p.RemoteID)
	p.sendOffer(true)
}

func (p *Peer) onConnectTimeout() {
	p.mu.Lock()
	if p.closed || p.status == StatusConnected {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.fail(newPeerError("establish connection", p.RemoteID, ErrConnectTimeout))
}

func (p *Peer) fail(err error) {
	slog.Error("peer session failed", "peer", p.RemoteID, "error", err)
	p.mgr.removePeer(p.RemoteID)
}

func (p *Peer) resetConnectTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.connectTimer != nil {
		p.connectTimer.Stop()
	}
	p.connectTimer = time.AfterFunc(connectTimeout, p.onConnectTimeout)
}

func (p *Peer) stopTimersLocked() {
	if p.connectTimer != nil {
		p.connectTimer.Stop()
	}
	if p.recoverTimer != nil {
		p.recoverTimer.Stop()
		p.recoverTimer = nil
	}
	p.epoch++
}

func (p *Peer) setStatus(s Status) {
	p.mu.Lock()
	if p.closed || p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	p.mu.Unlock()

	if fn := p.mgr.events.OnStatus; fn != nil {
		fn(p.RemoteID, s)
	}
}

// replaceVideoTrack swaps the outgoing video in place. If the sender
// rejects the new track, the sender is rebuilt and the session
// renegotiated instead.
func (p *Peer) replaceVideoTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return newPeerError("replace video track", p.RemoteID, ErrPeerClosed)
	}
	pc := p.pc
	offerer := p.offerer
	p.mu.Unlock()

	for _, sender := range pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := sender.ReplaceTrack(track); err == nil {
			return nil
		}
		if err := pc.RemoveTrack(sender); err != nil {
			return newPeerError("remove video sender", p.RemoteID, err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			return newPeerError("add video track", p.RemoteID, err)
		}
		if offerer {
			return p.sendOffer(false)
		}
		return nil
	}
	return newPeerError("replace video track", p.RemoteID, ErrNoVideoSender)
}

// Status returns the session's current lifecycle state.
func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RTT returns the last measured round-trip time to the remote peer.
func (p *Peer) RTT() time.Duration {
	return p.tel.RTT()
}

// Stats is a point-in-time view of one session.
type Stats struct {
	Status Status
	RTT    time.Duration
}

// Stats returns the session's current status and latency together.
func (p *Peer) Stats() Stats {
	return Stats{Status: p.Status(), RTT: p.tel.RTT()}
}

// Close tears the session down. Safe to call more than once; callbacks
// from the old connection become inert.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.status = StatusClosed
	p.stopTimersLocked()
	pc := p.pc
	tel := p.tel
	p.mu.Unlock()

	tel.close()
	err := pc.Close()

	if fn := p.mgr.events.OnStatus; fn != nil {
		fn(p.RemoteID, StatusClosed)
	}
	return err
}
