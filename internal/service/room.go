package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/teris-io/shortid"

	"github.com/songjam/rooms-server/internal/conference"
	"github.com/songjam/rooms-server/internal/database"
	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/repository"
)

type CreateRoomParams struct {
	Title       string
	Description string
	Provider    model.Provider
}

type RoomService struct {
	db              database.Transactor
	roomRepo        repository.RoomRepository
	sessionRepo     repository.RoomSessionRepository
	participantRepo repository.ParticipantRepository
	providers       conference.Registry
	broker          *pubsub.Broker
}

func NewRoomService(
	db database.Transactor,
	roomRepo repository.RoomRepository,
	sessionRepo repository.RoomSessionRepository,
	participantRepo repository.ParticipantRepository,
	providers conference.Registry,
	broker *pubsub.Broker,
) *RoomService {
	return &RoomService{
		db:              db,
		roomRepo:        roomRepo,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		providers:       providers,
		broker:          broker,
	}
}

// Create provisions a conferencing room and inserts the live room record
// together with its first hosting session. The unique live-per-host index
// rejects a second simultaneous room from the same host.
func (s *RoomService) Create(ctx context.Context, host *model.User, params CreateRoomParams) (*model.Room, error) {
	if params.Title == "" {
		return nil, apperrors.MissingRequired("title")
	}
	if !params.Provider.Valid() {
		return nil, apperrors.InvalidInput("provider", string(params.Provider))
	}

	provider, ok := s.providers.Get(params.Provider)
	if !ok {
		return nil, apperrors.InvalidInput("provider", fmt.Sprintf("%s is not configured", params.Provider))
	}

	if existing, err := s.roomRepo.FindLiveByHost(ctx, host.ID); err != nil {
		return nil, apperrors.Store(err)
	} else if existing != nil {
		return nil, apperrors.Conflict("Host already has a live room").WithDetails(map[string]string{
			"roomId": existing.ID,
		})
	}

	conferenceRef, err := provider.CreateRoom(ctx, params.Title)
	if err != nil {
		return nil, apperrors.External(string(params.Provider), err)
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, apperrors.Internal("failed to generate room id").WithCause(err)
	}

	var room *model.Room
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		room, err = s.roomRepo.WithTx(tx).Create(ctx, model.CreateRoomParams{
			ID:            id,
			Title:         params.Title,
			Description:   params.Description,
			HostID:        host.ID,
			HostHandle:    host.Handle,
			Provider:      params.Provider,
			ConferenceRef: conferenceRef,
		})
		if err != nil {
			return err
		}
		_, err = s.sessionRepo.WithTx(tx).Open(ctx, room.ID, conferenceRef)
		return err
	})
	if err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().
		Str("roomId", room.ID).
		Str("hostId", host.ID).
		Str("provider", string(params.Provider)).
		Msg("room created")

	s.publishRoom(ctx, room)
	s.publishLive(ctx)

	return room, nil
}

func (s *RoomService) Get(ctx context.Context, id string) (*model.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if room == nil {
		return nil, apperrors.NotFound("Room")
	}
	return room, nil
}

func (s *RoomService) ListLive(ctx context.Context) ([]model.Room, error) {
	rooms, err := s.roomRepo.ListLive(ctx)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return rooms, nil
}

// End transitions a live room to ended and closes its open hosting
// session. Only the host may end a room. Ending an already-ended room is
// a no-op returning the current record.
func (s *RoomService) End(ctx context.Context, callerID, roomID string) (*model.Room, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != callerID {
		return nil, apperrors.Forbidden("Only the host can end the room")
	}
	if !room.IsLive() {
		return room, nil
	}

	endedAt := time.Now()
	var ended bool
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		ended, err = s.roomRepo.WithTx(tx).MarkEnded(ctx, roomID, endedAt)
		if err != nil {
			return err
		}
		return s.sessionRepo.WithTx(tx).Close(ctx, roomID, endedAt)
	})
	if err != nil {
		return nil, apperrors.Store(err)
	}

	if !ended {
		// lost the race against another end; read back the record
		return s.Get(ctx, roomID)
	}

	room.State = model.RoomStateEnded
	room.EndedAt = &endedAt

	log.Info().
		Str("roomId", roomID).
		Str("hostId", callerID).
		Msg("room ended")

	s.publishEnded(ctx, room)
	s.publishLive(ctx)

	return room, nil
}

// Credential issues a join credential for a live room. The role is the
// host's for the host, the current roster role for a rejoining
// participant, and listener otherwise. The credential alone grants no
// roster entry; presence is reported separately once connected.
func (s *RoomService) Credential(ctx context.Context, user *model.User, roomID string) (*model.RoomCredential, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsLive() {
		return nil, apperrors.RoomNotLive()
	}

	role := model.RoleListener
	if room.HostID == user.ID {
		role = model.RoleHost
	} else {
		participant, err := s.participantRepo.FindByRoomAndUser(ctx, roomID, user.ID)
		if err != nil {
			return nil, apperrors.Store(err)
		}
		if participant != nil {
			role = participant.Role
		}
	}

	provider, ok := s.providers.Get(room.Provider)
	if !ok {
		return nil, apperrors.Internal("room provider not configured")
	}

	credential, err := provider.Credential(ctx, room.ConferenceRef, user, role)
	if err != nil {
		return nil, apperrors.Credential(err)
	}

	return &model.RoomCredential{
		RoomID:        room.ID,
		Provider:      room.Provider,
		ConferenceRef: room.ConferenceRef,
		Role:          role,
		Credential:    credential,
	}, nil
}

// Sessions lists a room's hosting intervals, most recent first.
func (s *RoomService) Sessions(ctx context.Context, roomID string) ([]model.RoomSession, error) {
	sessions, err := s.sessionRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return sessions, nil
}

func (s *RoomService) publishRoom(ctx context.Context, room *model.Room) {
	err := s.broker.Publish(ctx, redis.RoomChannel(room.ID), pubsub.NewEvent(pubsub.EventRoomUpdated, room))
	if err != nil {
		log.Error().Err(err).Str("roomId", room.ID).Msg("failed to publish room update")
	}
}

func (s *RoomService) publishEnded(ctx context.Context, room *model.Room) {
	err := s.broker.Publish(ctx, redis.RoomChannel(room.ID), pubsub.NewEvent(pubsub.EventRoomEnded, room))
	if err != nil {
		log.Error().Err(err).Str("roomId", room.ID).Msg("failed to publish room ended")
	}
}

func (s *RoomService) publishLive(ctx context.Context) {
	rooms, err := s.roomRepo.ListLive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load live rooms for publish")
		return
	}
	err = s.broker.Publish(ctx, redis.LiveChannel, pubsub.NewEvent(pubsub.EventLiveRooms, rooms))
	if err != nil {
		log.Error().Err(err).Msg("failed to publish live rooms")
	}
}
