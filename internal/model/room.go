package model

import "time"

// Room is one hostable audio space. ParticipantCount is derived from the
// roster at query time, never stored, so it cannot drift from the actual
// membership rows.
type Room struct {
	ID            string     `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	Description   string     `db:"description" json:"description"`
	HostID        string     `db:"host_id" json:"hostId"`
	HostHandle    string     `db:"host_handle" json:"hostHandle"`
	Provider      Provider   `db:"provider" json:"provider"`
	ConferenceRef string     `db:"conference_ref" json:"conferenceRef"`
	State         RoomState  `db:"state" json:"state"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	EndedAt       *time.Time `db:"ended_at" json:"endedAt,omitempty"`

	ParticipantCount int `db:"participant_count" json:"participantCount"`
}

func (r *Room) IsLive() bool {
	return r.State == RoomStateLive
}

type CreateRoomParams struct {
	ID            string
	Title         string
	Description   string
	HostID        string
	HostHandle    string
	Provider      Provider
	ConferenceRef string
}

// RoomCredential is an issued join credential together with everything
// the client needs to connect to the conferencing provider.
type RoomCredential struct {
	RoomID        string   `json:"roomId"`
	Provider      Provider `json:"provider"`
	ConferenceRef string   `json:"conferenceRef"`
	Role          Role     `json:"role"`
	Credential    string   `json:"credential"`
}

// RoomSession is one hosting interval of a room: opened on go-live,
// closed on end-space. A room has at most one session with a null
// EndedAt at a time.
type RoomSession struct {
	ID               string     `db:"id" json:"id"`
	RoomID           string     `db:"room_id" json:"roomId"`
	ConferenceRef    string     `db:"conference_ref" json:"conferenceRef"`
	StartedAt        time.Time  `db:"started_at" json:"startedAt"`
	EndedAt          *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	PeakParticipants int        `db:"peak_participants" json:"peakParticipants"`
}
