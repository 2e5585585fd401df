// Package conference abstracts the external audio conferencing provider
// behind a capability interface. The coordination layer never talks to a
// provider SDK directly; it sequences credential fetch, join, roster
// writes and role changes through Provider and Session.
package conference

import (
	"context"
	"errors"

	"github.com/songjam/rooms-server/internal/model"
)

// ErrPeerNotPresent is returned by ChangeRole when the target peer has
// already disconnected and its peer reference is stale.
var ErrPeerNotPresent = errors.New("peer not present")

// ConnState is the coarse connection state of a session.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// Peer describes a connected participant as seen by the provider.
type Peer struct {
	PeerID       string     `json:"peerId"`
	UserID       string     `json:"userId"`
	Role         model.Role `json:"role"`
	AudioEnabled bool       `json:"audioEnabled"`
	Speaking     bool       `json:"speaking"`
}

// JoinConfig carries everything a provider needs to connect one user.
type JoinConfig struct {
	RoomRef     string
	Credential  string
	UserID      string
	DisplayName string
	Role        model.Role
}

// Session is one live connection to a conferencing room. Observers must
// drain ConnectionStates; a join is not complete until StateConnected is
// observed there.
type Session interface {
	// PeerID is the provider's transient reference for this connection.
	PeerID() string
	// ConnectionStates delivers state transitions. The channel closes
	// after StateDisconnected is delivered.
	ConnectionStates() <-chan ConnState
	// Peers delivers full peer-set snapshots as they change.
	Peers() <-chan []Peer
	SetAudioEnabled(ctx context.Context, enabled bool) error
	// Leave tears the connection down. Safe to call more than once.
	Leave(ctx context.Context) error
}

// Provider is a conferencing backend.
type Provider interface {
	Name() model.Provider
	// CreateRoom provisions a room and returns the provider reference
	// (a call ID or a join URL depending on the provider).
	CreateRoom(ctx context.Context, title string) (string, error)
	// Credential mints a join credential scoped to the given role.
	Credential(ctx context.Context, roomRef string, user *model.User, role model.Role) (string, error)
	Join(ctx context.Context, cfg JoinConfig) (Session, error)
	// ChangeRole promotes or demotes a connected peer. Returns
	// ErrPeerNotPresent when the peer reference is stale.
	ChangeRole(ctx context.Context, roomRef, peerRef string, role model.Role, force bool) error
}

// Registry maps provider tags to configured providers.
type Registry map[model.Provider]Provider

func (r Registry) Get(p model.Provider) (Provider, bool) {
	provider, ok := r[p]
	return provider, ok
}
