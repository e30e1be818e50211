package models

import "time"

// Participant is one user instance in one room, as tracked by the presence
// store. SignalingAddress is the endpoint the relay uses to route to this
// participant; for the fallback discovery path it takes the derived form
// "roomId-userId".
type Participant struct {
	UserID           string    `json:"id"`
	RoomID           string    `json:"-"`
	SignalingAddress string    `json:"peerId,omitempty"`
	LastSeen         time.Time `json:"-"`
}

// RoomUser is the wire shape returned by GET /api/room/:roomId/users.
// LastSeen is milliseconds since the Unix epoch.
type RoomUser struct {
	ID       string `json:"id"`
	PeerID   string `json:"peerId,omitempty"`
	LastSeen int64  `json:"lastSeen"`
}

// RoomUsersResponse wraps the user list for the fallback discovery API.
type RoomUsersResponse struct {
	Users []RoomUser `json:"users"`
}

// PresenceResponse is returned by GET /api/presence after an upsert.
type PresenceResponse struct {
	Room        string   `json:"room"`
	ActiveUsers []string `json:"activeUsers"`
	PeerIDs     []string `json:"peerIds"`
}
