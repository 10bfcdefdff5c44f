package session

// Status tracks one peer session through its lifecycle.
type Status int

const (
	StatusAbsent Status = iota
	StatusNegotiating
	StatusConnected
	StatusRecovering
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusNegotiating:
		return "negotiating"
	case StatusConnected:
		return "connected"
	case StatusRecovering:
		return "recovering"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
