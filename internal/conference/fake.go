package conference

import (
	"context"
	"fmt"
	"sync"

	"github.com/songjam/rooms-server/internal/model"
)

// FakeProvider is an in-memory Provider used by tests and local
// development. Joins connect immediately and peers live in a map, so
// disconnects and stale peer references can be simulated directly.
type FakeProvider struct {
	name model.Provider

	mu      sync.Mutex
	nextID  int
	rooms   map[string]map[string]*FakeSession // roomRef -> peerRef -> session
	roles   map[string]map[string]model.Role   // roomRef -> peerRef -> role
	roleLog []string

	// injectable failures
	CredentialErr error
	JoinErr       error
	ChangeRoleErr error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		name:  model.ProviderSFU,
		rooms: make(map[string]map[string]*FakeSession),
		roles: make(map[string]map[string]model.Role),
	}
}

func (p *FakeProvider) Name() model.Provider {
	return p.name
}

func (p *FakeProvider) CreateRoom(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	ref := fmt.Sprintf("fake-room-%d", p.nextID)
	p.rooms[ref] = make(map[string]*FakeSession)
	p.roles[ref] = make(map[string]model.Role)
	return ref, nil
}

func (p *FakeProvider) Credential(_ context.Context, roomRef string, user *model.User, role model.Role) (string, error) {
	if p.CredentialErr != nil {
		return "", p.CredentialErr
	}
	return fmt.Sprintf("fake-credential:%s:%s:%s", roomRef, user.ID, role), nil
}

func (p *FakeProvider) Join(_ context.Context, cfg JoinConfig) (Session, error) {
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rooms[cfg.RoomRef] == nil {
		p.rooms[cfg.RoomRef] = make(map[string]*FakeSession)
		p.roles[cfg.RoomRef] = make(map[string]model.Role)
	}

	p.nextID++
	s := &FakeSession{
		provider: p,
		roomRef:  cfg.RoomRef,
		peerID:   fmt.Sprintf("fake-peer-%d", p.nextID),
		userID:   cfg.UserID,
		states:   make(chan ConnState, 8),
		peers:    make(chan []Peer, 8),
	}
	p.rooms[cfg.RoomRef][s.peerID] = s
	p.roles[cfg.RoomRef][s.peerID] = cfg.Role

	s.states <- StateConnecting
	s.states <- StateConnected

	p.broadcastPeersLocked(cfg.RoomRef)

	return s, nil
}

// broadcastPeersLocked pushes the current peer set to every session in
// the room. Caller holds the mutex.
func (p *FakeProvider) broadcastPeersLocked(roomRef string) {
	peers := make([]Peer, 0, len(p.rooms[roomRef]))
	for peerID, s := range p.rooms[roomRef] {
		peers = append(peers, Peer{
			PeerID: peerID,
			UserID: s.userID,
			Role:   p.roles[roomRef][peerID],
		})
	}
	for _, s := range p.rooms[roomRef] {
		select {
		case s.peers <- peers:
		default:
		}
	}
}

func (p *FakeProvider) ChangeRole(_ context.Context, roomRef, peerRef string, role model.Role, force bool) error {
	if p.ChangeRoleErr != nil {
		return p.ChangeRoleErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.rooms[roomRef]
	if room == nil || room[peerRef] == nil {
		return ErrPeerNotPresent
	}
	p.roles[roomRef][peerRef] = role
	p.roleLog = append(p.roleLog, fmt.Sprintf("%s:%s:%s", roomRef, peerRef, role))
	p.broadcastPeersLocked(roomRef)
	return nil
}

// Role reports the current provider-side role of a peer.
func (p *FakeProvider) Role(roomRef, peerRef string) (model.Role, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	role, ok := p.roles[roomRef][peerRef]
	return role, ok
}

// Disconnect simulates the peer dropping without a clean leave. The
// session's state stream delivers StateDisconnected.
func (p *FakeProvider) Disconnect(roomRef, peerRef string) {
	p.mu.Lock()
	s := p.rooms[roomRef][peerRef]
	delete(p.rooms[roomRef], peerRef)
	delete(p.roles[roomRef], peerRef)
	p.broadcastPeersLocked(roomRef)
	p.mu.Unlock()

	if s != nil {
		s.finish()
	}
}

// PeerCount reports connected peers in a room.
func (p *FakeProvider) PeerCount(roomRef string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomRef])
}

type FakeSession struct {
	provider *FakeProvider
	roomRef  string
	peerID   string
	userID   string
	states   chan ConnState
	peers    chan []Peer

	mu     sync.Mutex
	closed bool
}

func (s *FakeSession) PeerID() string {
	return s.peerID
}

func (s *FakeSession) ConnectionStates() <-chan ConnState {
	return s.states
}

func (s *FakeSession) Peers() <-chan []Peer {
	return s.peers
}

func (s *FakeSession) SetAudioEnabled(_ context.Context, _ bool) error {
	return nil
}

func (s *FakeSession) Leave(_ context.Context) error {
	s.provider.mu.Lock()
	delete(s.provider.rooms[s.roomRef], s.peerID)
	delete(s.provider.roles[s.roomRef], s.peerID)
	s.provider.broadcastPeersLocked(s.roomRef)
	s.provider.mu.Unlock()

	s.finish()
	return nil
}

func (s *FakeSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	select {
	case s.states <- StateDisconnected:
	default:
	}
	close(s.states)
}
