package signaling

import "time"

// Room groups the members of one call. Rooms are created lazily by the
// first join and deleted synchronously when the last member leaves; an
// empty room never persists.
type Room struct {
	// ID is the caller-supplied opaque token identifying the room.
	ID string

	// Users indexes the current members by connection ID. The entries
	// are owned by the hub's global user table; this is a non-owning
	// index for fan-out.
	Users map[string]*Client

	// CreatedAt is set once when the room is created.
	CreatedAt time.Time

	// RoomType is "audio" or "video", fixed by the creating join.
	// Informational only.
	RoomType string
}

func newRoom(id, roomType string) *Room {
	return &Room{
		ID:        id,
		Users:     make(map[string]*Client),
		CreatedAt: time.Now(),
		RoomType:  roomType,
	}
}

// memberInfos returns the advisory state of every member except the
// one identified by excludeID.
func (r *Room) memberInfos(excludeID string) []UserInfo {
	infos := make([]UserInfo, 0, len(r.Users))
	for id, member := range r.Users {
		if id == excludeID {
			continue
		}
		infos = append(infos, UserInfo{
			ID:             member.ID,
			Name:           member.Name,
			IsAudioEnabled: member.AudioEnabled,
			IsVideoEnabled: member.VideoEnabled,
		})
	}
	return infos
}
