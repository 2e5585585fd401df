package model

import "time"

// SpeakerRequest is a listener's pending ask to be promoted. PeerRef is
// the conferencing provider's transient identifier for the requester; it
// goes stale once the requester disconnects.
type SpeakerRequest struct {
	ID            string        `db:"id" json:"id"`
	RoomID        string        `db:"room_id" json:"roomId"`
	RequesterID   string        `db:"requester_id" json:"requesterId"`
	RequesterName string        `db:"requester_name" json:"requesterName"`
	PeerRef       string        `db:"peer_ref" json:"peerRef"`
	Status        RequestStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
}

type UpsertSpeakerRequestParams struct {
	RoomID        string
	RequesterID   string
	RequesterName string
	PeerRef       string
}
