package session

import (
	"errors"
	"fmt"
)

var (
	ErrPeerClosed        = errors.New("peer session closed")
	ErrPeerNotFound      = errors.New("no session for peer")
	ErrConnectTimeout    = errors.New("connection establishment timed out")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrUnexpectedSignal  = errors.New("unexpected signal")
	ErrNoVideoSender     = errors.New("no video sender on connection")
)

// SessionError ties a failure to the operation and remote peer it hit.
type SessionError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func newPeerError(op, peer string, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Err: err}
}
