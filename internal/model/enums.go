package model

// RoomState is a room's coarse lifecycle state. Rooms are never hard
// deleted; ended rooms stay behind as history.
type RoomState string

const (
	RoomStateLive  RoomState = "live"
	RoomStateEnded RoomState = "ended"
)

// Provider identifies which conferencing backend a room was created on.
type Provider string

const (
	// ProviderSFU is the token-credential provider: a signed room token
	// is minted per join and peers are addressed by provider peer ID.
	ProviderSFU Provider = "sfu"
	// ProviderMesh is the room-URL provider: the room is addressed by a
	// join URL returned at creation time.
	ProviderMesh Provider = "mesh"
)

func (p Provider) Valid() bool {
	return p == ProviderSFU || p == ProviderMesh
}

// Role is a participant's audio capability within a room.
type Role string

const (
	RoleHost     Role = "host"
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

func (r Role) CanPublish() bool {
	return r == RoleHost || r == RoleSpeaker
}

// RequestStatus is a speaker request's state. Approved and denied
// requests are deleted rather than kept, so only pending rows normally
// exist; the column is kept for the partial unique index and for
// debugging half-finished approvals.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
)
