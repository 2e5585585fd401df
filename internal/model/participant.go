package model

import "time"

// Participant is a user's membership in a room's roster. A row exists
// only while the user's conferencing session is connected; it is written
// after connection confirmation and deleted on every exit path.
type Participant struct {
	ID          string    `db:"id" json:"id"`
	RoomID      string    `db:"room_id" json:"roomId"`
	UserID      string    `db:"user_id" json:"userId"`
	DisplayName string    `db:"display_name" json:"displayName"`
	AvatarURL   string    `db:"avatar_url" json:"avatarUrl"`
	Role        Role      `db:"role" json:"role"`
	PeerRef     string    `db:"peer_ref" json:"peerRef"`
	JoinedAt    time.Time `db:"joined_at" json:"joinedAt"`
}

type JoinParams struct {
	RoomID      string
	UserID      string
	DisplayName string
	AvatarURL   string
	Role        Role
	PeerRef     string
}
