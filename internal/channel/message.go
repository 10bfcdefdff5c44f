package channel

import "encoding/json"

// Envelope mirrors the server wire format: a logical event name plus an
// event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for the given event.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: data}, nil
}
