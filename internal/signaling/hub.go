package signaling

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of hub state for the info endpoint.
type Snapshot struct {
	ActiveRooms int
	ActiveUsers int
}

// Hub is the single source of truth for who is in which room, and the
// router that forwards signaling payloads between members of the same
// room. It never inspects offer/answer/candidate contents.
//
// All state lives in the users and rooms maps, and every mutation
// happens inside the Run loop. Handlers run to completion before the
// next inbound message is processed, so no locking is needed and no
// partial state is ever observable.
type Hub struct {
	// users maps connection ID to the active client.
	users map[string]*Client

	// rooms maps room ID to Room.
	rooms map[string]*Room

	// Register carries freshly upgraded connections.
	Register chan *Client

	// Unregister carries disconnecting clients.
	Unregister chan *Client

	// Inbound carries decoded envelopes from client read pumps.
	Inbound chan *Envelope

	// Snapshots carries requests from the info endpoint. Answering
	// them inside the Run loop keeps the loop the single reader and
	// writer of the maps.
	Snapshots chan chan Snapshot
}

// NewHub creates a hub with empty state.
func NewHub() *Hub {
	return &Hub{
		users:      make(map[string]*Client),
		rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Envelope),
		Snapshots:  make(chan chan Snapshot),
	}
}

// NewClientID returns a fresh connection identifier.
func NewClientID() string {
	return uuid.NewString()
}

// Run starts the hub's main processing loop. This is the single
// goroutine that manages all room and user state.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.users[client.ID] = client
			slog.Info("client connected", "client", client.ID)

		case client := <-h.Unregister:
			// Disconnect can race with an explicit leave; both paths
			// funnel through handleUserLeave, which is a no-op for a
			// user with no current room.
			h.handleUserLeave(client)
			delete(h.users, client.ID)
			close(client.Send)
			slog.Info("client disconnected", "client", client.ID)

		case env := <-h.Inbound:
			h.handleEnvelope(env)

		case reply := <-h.Snapshots:
			reply <- Snapshot{ActiveRooms: len(h.rooms), ActiveUsers: len(h.users)}
		}
	}
}

// handleEnvelope dispatches one inbound message. Every handler isolates
// its own failures: a malformed payload produces an error event back to
// the sender, never a crash.
func (h *Hub) handleEnvelope(env *Envelope) {
	client := env.client
	if _, ok := h.users[client.ID]; !ok {
		// Message raced with disconnect cleanup; the sender is gone.
		return
	}

	switch env.Event {
	case EventJoinRoom:
		h.handleJoin(client, env.Data)

	case EventOffer:
		h.handleOffer(client, env.Data)

	case EventAnswer:
		h.handleAnswer(client, env.Data)

	case EventICECandidate:
		h.handleCandidate(client, env.Data)

	case EventAudioToggle:
		h.handleToggle(client, env.Data, EventUserAudioToggle)

	case EventVideoToggle:
		h.handleToggle(client, env.Data, EventUserVideoToggle)

	case EventScreenShare:
		h.handleToggle(client, env.Data, EventUserScreenShare)

	case EventChatMessage:
		h.handleChat(client, env.Data)

	case EventLeaveRoom:
		h.handleUserLeave(client)

	default:
		slog.Warn("unknown event", "event", env.Event, "client", client.ID)
	}
}

// handleJoin adds the caller to a room, creating it if absent. If the
// caller already belongs to a different room it is removed from that
// room first, in the same handler invocation, so the user is never
// observable in two rooms or zero.
func (h *Hub) handleJoin(client *Client, data json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(client, "malformed join-room payload")
		return
	}
	if req.RoomID == "" || req.UserName == "" {
		h.sendError(client, "roomId and userName are required")
		return
	}
	if req.RoomType == "" {
		req.RoomType = "video"
	}

	if client.RoomID != "" && client.RoomID != req.RoomID {
		h.handleUserLeave(client)
	}

	client.Name = req.UserName
	client.RoomID = req.RoomID
	client.AudioEnabled = true
	client.VideoEnabled = req.RoomType == "video"
	client.ScreenSharing = false

	room, ok := h.rooms[req.RoomID]
	if !ok {
		// Absence means "create": the unguessable token is the only
		// access control, and roomType is captured from this call.
		room = newRoom(req.RoomID, req.RoomType)
		h.rooms[req.RoomID] = room
		h.broadcastAll(EventNewRoomCreated, RoomInfo{
			ID:        room.ID,
			RoomType:  room.RoomType,
			CreatedAt: room.CreatedAt,
		})
		slog.Info("room created", "room", room.ID, "type", room.RoomType)
	}

	// Notify existing members before replying to the joiner, so the
	// "peer joined" trigger and the member list can never both make the
	// same pair think it is the initiator. A re-join to the same room
	// skips the member itself.
	for id, member := range room.Users {
		if id == client.ID {
			continue
		}
		h.sendTo(member, EventUserJoined, UserJoinedNotice{
			UserID:         client.ID,
			UserName:       client.Name,
			IsAudioEnabled: client.AudioEnabled,
			IsVideoEnabled: client.VideoEnabled,
		})
	}

	room.Users[client.ID] = client

	h.sendTo(client, EventJoinedRoom, JoinedRoomReply{
		RoomID:   room.ID,
		UserID:   client.ID,
		UserName: client.Name,
		RoomType: room.RoomType,
		Users:    room.memberInfos(client.ID),
	})

	slog.Info("user joined room", "room", room.ID, "client", client.ID, "name", client.Name, "members", len(room.Users))

	h.broadcastAll(EventRoomUpdated, RoomInfo{
		ID:        room.ID,
		UserCount: len(room.Users),
		RoomType:  room.RoomType,
		CreatedAt: room.CreatedAt,
	})
}

// relayTarget verifies that from and the named target currently share a
// room and returns the target client.
func (h *Hub) relayTarget(from *Client, targetID string) (*Client, bool) {
	if from.RoomID == "" || targetID == "" {
		return nil, false
	}
	target, ok := h.users[targetID]
	if !ok || target.RoomID != from.RoomID {
		return nil, false
	}
	return target, true
}

func (h *Hub) handleOffer(client *Client, data json.RawMessage) {
	var payload OfferPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(client, "malformed offer payload")
		return
	}

	target, ok := h.relayTarget(client, payload.TargetUserID)
	if !ok {
		h.sendError(client, "could not send offer: user not available or in a different room")
		return
	}

	h.sendTo(target, EventOffer, OfferPayload{
		Offer:        payload.Offer,
		FromUserID:   client.ID,
		FromUserName: client.Name,
	})
}

func (h *Hub) handleAnswer(client *Client, data json.RawMessage) {
	var payload AnswerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(client, "malformed answer payload")
		return
	}

	target, ok := h.relayTarget(client, payload.TargetUserID)
	if !ok {
		h.sendError(client, "could not send answer: user not available or in a different room")
		return
	}

	h.sendTo(target, EventAnswer, AnswerPayload{
		Answer:       payload.Answer,
		FromUserID:   client.ID,
		FromUserName: client.Name,
	})
}

// handleCandidate relays an ICE candidate best-effort. Candidates arrive
// in bursts, so a failed relay is dropped silently rather than answered
// with an error event.
func (h *Hub) handleCandidate(client *Client, data json.RawMessage) {
	var payload CandidatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	target, ok := h.relayTarget(client, payload.TargetUserID)
	if !ok {
		slog.Debug("candidate dropped", "from", client.ID, "target", payload.TargetUserID)
		return
	}

	h.sendTo(target, EventICECandidate, CandidatePayload{
		Candidate:  payload.Candidate,
		FromUserID: client.ID,
	})
}

// handleToggle updates one advisory media flag and broadcasts it to the
// rest of the room. No effect on routing.
func (h *Hub) handleToggle(client *Client, data json.RawMessage, notice string) {
	var req ToggleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(client, "malformed toggle payload")
		return
	}

	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}

	switch notice {
	case EventUserAudioToggle:
		client.AudioEnabled = req.IsEnabled
	case EventUserVideoToggle:
		client.VideoEnabled = req.IsEnabled
	case EventUserScreenShare:
		client.ScreenSharing = req.IsEnabled
	}

	for id, member := range room.Users {
		if id == client.ID {
			continue
		}
		h.sendTo(member, notice, UserToggleNotice{UserID: client.ID, IsEnabled: req.IsEnabled})
	}
}

// handleChat stamps the message with an ID and timestamp and broadcasts
// the single copy to every member of the room, sender included.
func (h *Hub) handleChat(client *Client, data json.RawMessage) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(client, "malformed chat payload")
		return
	}

	// The supplied roomId must match the sender's actual membership;
	// this guards against spoofed room ids.
	if client.RoomID == "" || client.RoomID != req.RoomID {
		h.sendError(client, "cannot send chat: not a member of that room")
		return
	}

	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}

	broadcast := ChatBroadcast{
		ID:        uuid.NewString(),
		UserID:    client.ID,
		UserName:  client.Name,
		Message:   req.Message,
		Timestamp: time.Now().UTC(),
	}

	for _, member := range room.Users {
		h.sendTo(member, EventChatMessage, broadcast)
	}
}

// handleUserLeave removes the client from its current room, deleting the
// room if it becomes empty. Idempotent: a client with no current room is
// a no-op, because disconnect can race with an explicit leave.
func (h *Hub) handleUserLeave(client *Client) {
	if client.RoomID == "" {
		return
	}

	roomID := client.RoomID
	client.RoomID = ""

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}

	delete(room.Users, client.ID)

	for _, member := range room.Users {
		h.sendTo(member, EventUserLeft, UserLeftNotice{
			UserID:    client.ID,
			UserName:  client.Name,
			UserCount: len(room.Users),
		})
	}
	slog.Info("user left room", "room", roomID, "client", client.ID, "members", len(room.Users))

	if len(room.Users) == 0 {
		delete(h.rooms, roomID)
		h.broadcastAll(EventRoomDeleted, RoomDeletedNotice{RoomID: roomID})
		slog.Info("room deleted", "room", roomID)
		return
	}

	h.broadcastAll(EventRoomUpdated, RoomInfo{
		ID:        room.ID,
		UserCount: len(room.Users),
		RoomType:  room.RoomType,
		CreatedAt: room.CreatedAt,
	})
}

// sendTo queues an envelope for one client. A client whose send buffer
// is full is dropped rather than allowed to stall the hub loop.
func (h *Hub) sendTo(client *Client, event string, payload any) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		slog.Error("marshal envelope", "event", event, "error", err)
		return
	}

	select {
	case client.Send <- env:
	default:
		slog.Warn("send buffer full, dropping message", "client", client.ID, "event", event)
	}
}

func (h *Hub) sendError(client *Client, message string) {
	h.sendTo(client, EventError, ErrorPayload{Message: message})
}

// broadcastAll sends a lobby-level event to every connected client,
// whether or not they are in a room.
func (h *Hub) broadcastAll(event string, payload any) {
	for _, client := range h.users {
		h.sendTo(client, event, payload)
	}
}
