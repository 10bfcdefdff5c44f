package signaling

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format for every message in both directions:
// a logical event name plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	// client is the connection that sent the message. Set by the read
	// pump for inbound envelopes, never serialized.
	client *Client
}

// Client-to-server events.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventAudioToggle  = "audio-toggle"
	EventVideoToggle  = "video-toggle"
	EventScreenShare  = "screen-share-toggle"
	EventChatMessage  = "chat-message"
)

// Server-to-client events.
const (
	EventJoinedRoom      = "joined-room"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventNewRoomCreated  = "new-room-created"
	EventRoomUpdated     = "room-updated"
	EventRoomDeleted     = "room-deleted"
	EventUserAudioToggle = "user-audio-toggle"
	EventUserVideoToggle = "user-video-toggle"
	EventUserScreenShare = "user-screen-share-toggle"
	EventError           = "error"
)

// JoinRoomRequest asks to join (and lazily create) a room.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	RoomType string `json:"roomType,omitempty"`
}

// UserInfo is the advisory per-user state shared with other members.
type UserInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// JoinedRoomReply is sent only to the joiner. Users lists the other
// members already in the room.
type JoinedRoomReply struct {
	RoomID   string     `json:"roomId"`
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	RoomType string     `json:"roomType"`
	Users    []UserInfo `json:"users"`
}

// UserJoinedNotice goes to every existing member when someone joins.
type UserJoinedNotice struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// UserLeftNotice goes to the remaining members when someone leaves.
type UserLeftNotice struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserCount int    `json:"userCount"`
}

// RoomInfo describes a room for the lobby-level broadcasts
// (new-room-created and room-updated).
type RoomInfo struct {
	ID        string    `json:"id"`
	UserCount int       `json:"userCount,omitempty"`
	RoomType  string    `json:"roomType,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomDeletedNotice announces that an emptied room was removed.
type RoomDeletedNotice struct {
	RoomID string `json:"roomId"`
}

// OfferPayload carries an SDP offer through the relay. The Offer bytes
// are forwarded verbatim; the server never parses them.
type OfferPayload struct {
	Offer        json.RawMessage `json:"offer"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	FromUserName string          `json:"fromUserName,omitempty"`
}

// AnswerPayload carries an SDP answer through the relay.
type AnswerPayload struct {
	Answer       json.RawMessage `json:"answer"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	FromUserName string          `json:"fromUserName,omitempty"`
}

// CandidatePayload carries an ICE candidate through the relay.
type CandidatePayload struct {
	Candidate    json.RawMessage `json:"candidate"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
}

// ToggleRequest reports a local media flag change.
type ToggleRequest struct {
	IsEnabled bool `json:"isEnabled"`
}

// UserToggleNotice broadcasts a member's media flag change.
type UserToggleNotice struct {
	UserID    string `json:"userId"`
	IsEnabled bool   `json:"isEnabled"`
}

// ChatRequest is a chat message from a member. RoomID must match the
// sender's current room.
type ChatRequest struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// ChatBroadcast is the single server-stamped copy of a chat message,
// delivered to every member including the sender.
type ChatBroadcast struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is a non-fatal error notice for the sender only.
type ErrorPayload struct {
	Message string `json:"message"`
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
