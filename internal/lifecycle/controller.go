// Package lifecycle drives one user's passage through a room: create or
// enter, join the conferencing session, hold the roster entry while
// connected, and release everything on every exit path. The store
// subscription is authoritative; local fields are only a cache of the
// last snapshot.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/conference"
	"github.com/songjam/rooms-server/internal/config"
	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/service"
)

type State string

const (
	StateNoRoom  State = "no_room"
	StateLobby   State = "lobby"
	StateJoining State = "joining"
	StateJoined  State = "joined"
	StateEnding  State = "ending"
)

const releaseTimeout = 10 * time.Second

type Controller struct {
	user      *model.User
	rooms     *service.RoomService
	roster    *service.RosterService
	requests  *service.SpeakerRequestService
	providers conference.Registry
	broker    *pubsub.Broker

	// ConnectTimeout bounds the wait for the conferencing session to
	// report connected during a join.
	ConnectTimeout time.Duration

	mu        sync.Mutex
	state     State
	room      *model.Room
	role      model.Role
	session   conference.Session
	client    *pubsub.Client
	watchStop chan struct{}
	requestID string
	peers     []conference.Peer
	lastErr   string
}

func NewController(
	user *model.User,
	rooms *service.RoomService,
	roster *service.RosterService,
	requests *service.SpeakerRequestService,
	providers conference.Registry,
	broker *pubsub.Broker,
) *Controller {
	return &Controller{
		user:           user,
		rooms:          rooms,
		roster:         roster,
		requests:       requests,
		providers:      providers,
		broker:         broker,
		ConnectTimeout: config.JoinConnectTimeout,
		state:          StateNoRoom,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Room() *model.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Controller) Role() model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Peers is the provider's latest peer-set snapshot for the joined
// session, so callers render live peers without a store round trip.
// Empty outside Joined.
func (c *Controller) Peers() []conference.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers
}

// LastError is the last surfaced failure, cleared by the next
// successful transition. There is no automatic retry; the user
// re-triggers the action.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Enter moves NoRoom -> Lobby: the room exists but the user has not
// joined its audio yet.
func (c *Controller) Enter(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNoRoom && c.state != StateLobby {
		return apperrors.Conflict("already in a room")
	}

	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		c.lastErr = err.Error()
		return err
	}

	c.room = room
	c.state = StateLobby
	c.lastErr = ""
	return nil
}

// GoLive is the host path: create the room record, then join the
// conferencing session as host. When the record is created but the
// audio join fails, the controller lands in Lobby with the error
// surfaced so the host can retry or end the room.
func (c *Controller) GoLive(ctx context.Context, params service.CreateRoomParams) error {
	c.mu.Lock()
	if c.state != StateNoRoom {
		c.mu.Unlock()
		return apperrors.Conflict("already in a room")
	}

	room, err := c.rooms.Create(ctx, c.user, params)
	if err != nil {
		c.lastErr = err.Error()
		c.mu.Unlock()
		return err
	}
	c.room = room
	c.state = StateJoining
	c.mu.Unlock()

	return c.finishJoin(ctx, room, model.RoleHost)
}

// Join is the guest path: Lobby -> Joining -> Joined. The roster entry
// is only written after the conferencing session reports connected.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateLobby {
		c.mu.Unlock()
		return apperrors.Conflict("not in a joinable state")
	}
	room := c.room
	c.state = StateJoining
	c.mu.Unlock()

	role := model.RoleListener
	if room.HostID == c.user.ID {
		role = model.RoleHost
	}

	return c.finishJoin(ctx, room, role)
}

func (c *Controller) finishJoin(ctx context.Context, room *model.Room, role model.Role) error {
	sess, err := c.connect(ctx, room, role)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateLobby
		c.lastErr = err.Error()
		return err
	}

	c.session = sess
	c.role = role
	c.state = StateJoined
	c.lastErr = ""
	c.startWatchLocked(room.ID, sess)

	return nil
}

// connect sequences credential fetch, conferencing join, connection
// confirmation and the roster write. Any failure tears down whatever
// was already acquired.
func (c *Controller) connect(ctx context.Context, room *model.Room, role model.Role) (conference.Session, error) {
	provider, ok := c.providers.Get(room.Provider)
	if !ok {
		return nil, apperrors.Internal("room provider not configured")
	}

	credential, err := provider.Credential(ctx, room.ConferenceRef, c.user, role)
	if err != nil {
		return nil, apperrors.Credential(err)
	}

	sess, err := provider.Join(ctx, conference.JoinConfig{
		RoomRef:     room.ConferenceRef,
		Credential:  credential,
		UserID:      c.user.ID,
		DisplayName: c.user.DisplayName,
		Role:        role,
	})
	if err != nil {
		return nil, apperrors.Connection(err)
	}

	if err := waitConnected(ctx, sess, c.ConnectTimeout); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		_ = sess.Leave(releaseCtx)
		cancel()
		return nil, err
	}

	if _, err := c.roster.Join(ctx, room.ID, c.user, role, sess.PeerID()); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		_ = sess.Leave(releaseCtx)
		cancel()
		return nil, err
	}

	return sess, nil
}

func waitConnected(ctx context.Context, sess conference.Session, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case state, ok := <-sess.ConnectionStates():
			if !ok {
				return apperrors.Connection(errors.New("session closed before connecting"))
			}
			switch state {
			case conference.StateConnected:
				return nil
			case conference.StateDisconnected:
				return apperrors.Connection(errors.New("disconnected before join completed"))
			}
		case <-timer.C:
			return apperrors.Connection(errors.New("timed out waiting for connection"))
		case <-ctx.Done():
			return apperrors.Connection(ctx.Err())
		}
	}
}

// Leave releases the joined session: roster entry first, conferencing
// second, so a failed conferencing leave can never strand a roster row.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateJoined {
		return apperrors.Conflict("not joined")
	}

	c.releaseLocked()

	if c.room != nil && c.room.IsLive() {
		c.state = StateLobby
	} else {
		c.state = StateNoRoom
		c.room = nil
	}
	return nil
}

// EndSpace is the host's end-room action: mark the record ended, then
// release the local session. Other joined clients observe the ended
// event and force-disconnect themselves.
func (c *Controller) EndSpace(ctx context.Context) error {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return apperrors.Conflict("no room to end")
	}
	roomID := c.room.ID
	c.state = StateEnding
	c.mu.Unlock()

	room, err := c.rooms.End(ctx, c.user.ID, roomID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// the record may still be live; fall back to joined/lobby
		if c.session != nil {
			c.state = StateJoined
		} else {
			c.state = StateLobby
		}
		c.lastErr = err.Error()
		return err
	}

	c.room = room
	c.releaseLocked()
	c.state = StateNoRoom
	c.room = nil
	c.lastErr = ""
	return nil
}

// RaiseHand files a speaker request carrying the live peer reference.
func (c *Controller) RaiseHand(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateJoined || c.session == nil {
		c.mu.Unlock()
		return apperrors.Conflict("not joined")
	}
	roomID := c.room.ID
	peerRef := c.session.PeerID()
	c.mu.Unlock()

	request, err := c.requests.Request(ctx, roomID, c.user, peerRef)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	c.requestID = request.ID
	return nil
}

// CancelHand withdraws the user's own pending request, if any.
func (c *Controller) CancelHand(ctx context.Context) error {
	c.mu.Lock()
	if c.requestID == "" || c.room == nil {
		c.mu.Unlock()
		return nil
	}
	roomID := c.room.ID
	requestID := c.requestID
	c.mu.Unlock()

	err := c.requests.Cancel(ctx, roomID, requestID, c.user.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		c.lastErr = err.Error()
		return err
	}
	c.requestID = ""
	return nil
}

// releaseLocked tears down the joined session. Idempotent; must run on
// every exit path. Caller holds the mutex. Release uses its own
// deadline so a caller's cancelled context cannot strand a roster row.
func (c *Controller) releaseLocked() {
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}
	if c.client != nil {
		c.broker.Unsubscribe(c.client)
		c.client = nil
	}

	if c.room != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := c.roster.Leave(releaseCtx, c.room.ID, c.user.ID); err != nil {
			log.Warn().Err(err).Str("roomId", c.room.ID).Msg("roster leave failed during release")
		}
		cancel()
	}

	if c.session != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := c.session.Leave(releaseCtx); err != nil {
			log.Warn().Err(err).Msg("conferencing leave failed during release")
		}
		cancel()
		c.session = nil
	}

	c.requestID = ""
	c.peers = nil
	c.role = ""
}

// startWatchLocked subscribes to the room channel and watches both the
// store events and the connection state. Caller holds the mutex.
func (c *Controller) startWatchLocked(roomID string, sess conference.Session) {
	client := c.broker.Subscribe(redis.RoomChannel(roomID))
	stop := make(chan struct{})
	c.client = client
	c.watchStop = stop

	go c.watch(roomID, sess, client, stop)
}

func (c *Controller) watch(roomID string, sess conference.Session, client *pubsub.Client, stop chan struct{}) {
	peersCh := sess.Peers()

	for {
		select {
		case <-stop:
			return

		case <-client.Done:
			return

		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			if c.roomNoLongerLive(ev) {
				c.forceDisconnect(roomID, "room ended remotely")
				return
			}

		case peers, ok := <-peersCh:
			if !ok {
				peersCh = nil
				continue
			}
			c.setPeers(peers)

		case state, ok := <-sess.ConnectionStates():
			if !ok || state == conference.StateDisconnected {
				c.handleDisconnect(roomID)
				return
			}
		}
	}
}

func (c *Controller) setPeers(peers []conference.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateJoined {
		c.peers = peers
	}
}

// roomNoLongerLive inspects a room event for the not-live transition.
// The ended event is authoritative regardless of local state or the
// order it arrives in relative to the local join.
func (c *Controller) roomNoLongerLive(ev pubsub.Event) bool {
	switch ev.Type {
	case pubsub.EventRoomEnded:
		return true
	case pubsub.EventRoomUpdated:
		var room model.Room
		if err := json.Unmarshal(ev.Data, &room); err != nil {
			return false
		}
		return !room.IsLive()
	default:
		return false
	}
}

// forceDisconnect reacts to the room ending under a joined client: the
// conferencing session is left even though the local user did not
// initiate anything.
func (c *Controller) forceDisconnect(roomID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateJoined {
		return
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", c.user.ID).
		Str("reason", reason).
		Msg("forcing local disconnect")

	c.releaseLocked()
	if c.room != nil {
		c.room.State = model.RoomStateEnded
	}
	c.state = StateLobby
}

// handleDisconnect reacts to the conferencing session dropping: the
// roster entry is removed within one cycle so no phantom participant
// outlives its connection.
func (c *Controller) handleDisconnect(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateJoined {
		return
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", c.user.ID).
		Msg("conferencing session disconnected")

	c.releaseLocked()
	c.state = StateLobby
	c.lastErr = "conferencing session disconnected"
}
