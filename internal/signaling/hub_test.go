package signaling

import (
	"encoding/json"
	"testing"
	"time"
)

// testClient registers a hub client that has no websocket behind it.
// The hub only ever touches the Send channel and the user fields, so
// tests can drive the loop directly through the hub's channels.
func testClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := &Client{
		Hub:  h,
		ID:   NewClientID(),
		Send: make(chan *Envelope, 64),
	}
	h.Register <- c
	return c
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	return h
}

func send(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	env, err := NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	env.client = c
	h.Inbound <- env
}

// recvEvent drains c.Send until an envelope with the given event
// arrives, failing the test on timeout. Lobby broadcasts interleave
// with room traffic, so tests skip past events they do not care about.
func recvEvent(t *testing.T, c *Client, event string) *Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.Send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %s", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// expectNoEvent asserts that no envelope with the given event is
// queued for c within a short window.
func expectNoEvent(t *testing.T, c *Client, event string) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case env, ok := <-c.Send:
			if !ok {
				return
			}
			if env.Event == event {
				t.Fatalf("unexpected %s: %s", event, env.Data)
			}
		case <-timeout:
			return
		}
	}
}

func decode[T any](t *testing.T, env *Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

func join(t *testing.T, h *Hub, c *Client, roomID, name, roomType string) JoinedRoomReply {
	t.Helper()
	send(t, h, c, EventJoinRoom, JoinRoomRequest{RoomID: roomID, UserName: name, RoomType: roomType})
	return decode[JoinedRoomReply](t, recvEvent(t, c, EventJoinedRoom))
}

// snapshot queries the hub loop for current state. Because the loop
// processes messages in order, a snapshot taken after an event also
// observes that event's effects.
func snapshot(t *testing.T, h *Hub) Snapshot {
	t.Helper()
	reply := make(chan Snapshot, 1)
	h.Snapshots <- reply
	select {
	case s := <-reply:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestJoinCreatesRoomAndRepliesWithMembers(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	replyA := join(t, h, alice, "r1", "Alice", "video")
	if replyA.RoomID != "r1" || replyA.UserID != alice.ID {
		t.Fatalf("joined-room = %+v", replyA)
	}
	if len(replyA.Users) != 0 {
		t.Fatalf("first joiner should see empty member list, got %d", len(replyA.Users))
	}
	if replyA.RoomType != "video" {
		t.Fatalf("roomType = %q, want video", replyA.RoomType)
	}

	replyB := join(t, h, bob, "r1", "Bob", "video")
	if len(replyB.Users) != 1 || replyB.Users[0].ID != alice.ID || replyB.Users[0].Name != "Alice" {
		t.Fatalf("second joiner member list = %+v", replyB.Users)
	}

	joined := decode[UserJoinedNotice](t, recvEvent(t, alice, EventUserJoined))
	if joined.UserID != bob.ID || joined.UserName != "Bob" {
		t.Fatalf("user-joined = %+v", joined)
	}
}

func TestRoomTypeDefaultsToVideoAndIsFixedByCreator(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	reply := join(t, h, alice, "r1", "Alice", "")
	if reply.RoomType != "video" {
		t.Fatalf("default roomType = %q, want video", reply.RoomType)
	}

	// A later joiner's roomType does not change the room.
	replyB := join(t, h, bob, "r1", "Bob", "audio")
	if replyB.RoomType != "video" {
		t.Fatalf("roomType after second join = %q, want video", replyB.RoomType)
	}
}

func TestMembershipInvariant(t *testing.T) {
	h := startHub(t)
	clients := []*Client{testClient(t, h), testClient(t, h), testClient(t, h)}

	join(t, h, clients[0], "r1", "u0", "video")
	join(t, h, clients[1], "r1", "u1", "video")
	join(t, h, clients[2], "r2", "u2", "audio")

	// Move u1 from r1 to r2: the implicit leave and the join must be
	// atomic from any observer's perspective.
	join(t, h, clients[1], "r2", "u1", "audio")

	s := snapshot(t, h)
	if s.ActiveRooms != 2 || s.ActiveUsers != 3 {
		t.Fatalf("snapshot = %+v, want 2 rooms / 3 users", s)
	}

	// u0 saw u1 leave r1.
	left := decode[UserLeftNotice](t, recvEvent(t, clients[0], EventUserLeft))
	if left.UserID != clients[1].ID || left.UserCount != 1 {
		t.Fatalf("user-left = %+v", left)
	}
	// u2 saw u1 join r2.
	joined := decode[UserJoinedNotice](t, recvEvent(t, clients[2], EventUserJoined))
	if joined.UserID != clients[1].ID {
		t.Fatalf("user-joined = %+v", joined)
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	watcher := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	send(t, h, alice, EventLeaveRoom, nil)

	deleted := decode[RoomDeletedNotice](t, recvEvent(t, watcher, EventRoomDeleted))
	if deleted.RoomID != "r1" {
		t.Fatalf("room-deleted = %+v", deleted)
	}
	if s := snapshot(t, h); s.ActiveRooms != 0 {
		t.Fatalf("rooms after delete = %d, want 0", s.ActiveRooms)
	}
}

func TestLeaveThenDisconnectIsIdempotent(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r1", "Bob", "video")

	send(t, h, bob, EventLeaveRoom, nil)
	h.Unregister <- bob

	// Exactly one user-left for bob, no double decrement.
	left := decode[UserLeftNotice](t, recvEvent(t, alice, EventUserLeft))
	if left.UserID != bob.ID || left.UserCount != 1 {
		t.Fatalf("user-left = %+v", left)
	}
	expectNoEvent(t, alice, EventUserLeft)

	if s := snapshot(t, h); s.ActiveRooms != 1 || s.ActiveUsers != 1 {
		t.Fatalf("snapshot = %+v, want 1 room / 1 user", s)
	}
}

func TestRelayRequiresSharedRoom(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)
	eve := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r1", "Bob", "video")
	join(t, h, eve, "r2", "Eve", "video")
	recvEvent(t, alice, EventUserJoined)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	// Same room: forwarded verbatim and tagged with sender identity.
	send(t, h, alice, EventOffer, OfferPayload{Offer: sdp, TargetUserID: bob.ID})
	offer := decode[OfferPayload](t, recvEvent(t, bob, EventOffer))
	if offer.FromUserID != alice.ID || offer.FromUserName != "Alice" {
		t.Fatalf("offer tag = %+v", offer)
	}
	if string(offer.Offer) != string(sdp) {
		t.Fatalf("offer payload altered: %s", offer.Offer)
	}

	// Cross room: dropped, sender notified for offer/answer.
	send(t, h, alice, EventOffer, OfferPayload{Offer: sdp, TargetUserID: eve.ID})
	recvEvent(t, alice, EventError)
	expectNoEvent(t, eve, EventOffer)

	send(t, h, alice, EventAnswer, AnswerPayload{Answer: sdp, TargetUserID: eve.ID})
	recvEvent(t, alice, EventError)
	expectNoEvent(t, eve, EventAnswer)

	// Cross room candidate: silent drop, no error event.
	send(t, h, alice, EventICECandidate, CandidatePayload{Candidate: sdp, TargetUserID: eve.ID})
	expectNoEvent(t, alice, EventError)
	expectNoEvent(t, eve, EventICECandidate)
}

func TestCandidateRelayOmitsSenderName(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r1", "Bob", "video")

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2 127.0.0.1 5000 typ host"}`)
	send(t, h, alice, EventICECandidate, CandidatePayload{Candidate: cand, TargetUserID: bob.ID})

	got := decode[CandidatePayload](t, recvEvent(t, bob, EventICECandidate))
	if got.FromUserID != alice.ID {
		t.Fatalf("candidate fromUserId = %q", got.FromUserID)
	}
	if string(got.Candidate) != string(cand) {
		t.Fatalf("candidate payload altered: %s", got.Candidate)
	}
}

func TestChatBroadcastsSingleStampedCopy(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r1", "Bob", "video")

	send(t, h, alice, EventChatMessage, ChatRequest{RoomID: "r1", Message: "hello"})

	gotA := decode[ChatBroadcast](t, recvEvent(t, alice, EventChatMessage))
	gotB := decode[ChatBroadcast](t, recvEvent(t, bob, EventChatMessage))

	if gotA.ID == "" || gotA.ID != gotB.ID {
		t.Fatalf("chat ids differ: %q vs %q", gotA.ID, gotB.ID)
	}
	if gotA.Message != "hello" || gotA.UserName != "Alice" || gotA.UserID != alice.ID {
		t.Fatalf("chat broadcast = %+v", gotA)
	}
	expectNoEvent(t, alice, EventChatMessage)
}

func TestChatRejectsSpoofedRoom(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r2", "Bob", "video")

	send(t, h, alice, EventChatMessage, ChatRequest{RoomID: "r2", Message: "spoof"})
	recvEvent(t, alice, EventError)
	expectNoEvent(t, bob, EventChatMessage)
}

func TestTogglesUpdateFlagsAndNotifyOthers(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)
	bob := testClient(t, h)

	join(t, h, alice, "r1", "Alice", "video")
	join(t, h, bob, "r1", "Bob", "video")

	send(t, h, alice, EventAudioToggle, ToggleRequest{IsEnabled: false})
	notice := decode[UserToggleNotice](t, recvEvent(t, bob, EventUserAudioToggle))
	if notice.UserID != alice.ID || notice.IsEnabled {
		t.Fatalf("user-audio-toggle = %+v", notice)
	}
	// The sender does not get its own toggle echoed back.
	expectNoEvent(t, alice, EventUserAudioToggle)

	send(t, h, alice, EventScreenShare, ToggleRequest{IsEnabled: true})
	share := decode[UserToggleNotice](t, recvEvent(t, bob, EventUserScreenShare))
	if !share.IsEnabled {
		t.Fatalf("user-screen-share-toggle = %+v", share)
	}
}

func TestMalformedPayloadProducesErrorNotCrash(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)

	env := &Envelope{Event: EventJoinRoom, Data: json.RawMessage(`{"roomId":42}`), client: alice}
	h.Inbound <- env
	recvEvent(t, alice, EventError)

	// Hub still serves afterwards.
	join(t, h, alice, "r1", "Alice", "video")
}

func TestJoinValidatesRequiredFields(t *testing.T) {
	h := startHub(t)
	alice := testClient(t, h)

	send(t, h, alice, EventJoinRoom, JoinRoomRequest{RoomID: "", UserName: "Alice"})
	recvEvent(t, alice, EventError)

	send(t, h, alice, EventJoinRoom, JoinRoomRequest{RoomID: "r1", UserName: ""})
	recvEvent(t, alice, EventError)

	if s := snapshot(t, h); s.ActiveRooms != 0 {
		t.Fatalf("rooms after invalid joins = %d, want 0", s.ActiveRooms)
	}
}
