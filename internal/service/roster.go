package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/repository"
)

// RosterService owns the per-room membership rows. Join is only called
// once the caller's conferencing session reports connected, so a roster
// row always corresponds to a real connection.
type RosterService struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
	sessionRepo     repository.RoomSessionRepository
	broker          *pubsub.Broker
}

func NewRosterService(
	roomRepo repository.RoomRepository,
	participantRepo repository.ParticipantRepository,
	sessionRepo repository.RoomSessionRepository,
	broker *pubsub.Broker,
) *RosterService {
	return &RosterService{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		sessionRepo:     sessionRepo,
		broker:          broker,
	}
}

// Join upserts the (room, user) roster row. Re-joining after a reconnect
// refreshes the peer reference instead of duplicating the row, so a
// client observing its own join echoed back cannot double-count itself.
func (s *RosterService) Join(ctx context.Context, roomID string, user *model.User, role model.Role, peerRef string) (*model.Participant, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if room == nil {
		return nil, apperrors.NotFound("Room")
	}
	if !room.IsLive() {
		return nil, apperrors.RoomNotLive()
	}

	if role == model.RoleHost {
		if room.HostID != user.ID {
			return nil, apperrors.Forbidden("Only the host can join as host")
		}
	} else {
		// Non-host roles are never client-assigned. A join lands at the
		// caller's existing roster role, listener when there is none;
		// promotion happens only through the approve flow.
		existing, err := s.participantRepo.FindByRoomAndUser(ctx, roomID, user.ID)
		if err != nil {
			return nil, apperrors.Store(err)
		}
		role = model.RoleListener
		if existing != nil && existing.Role.CanPublish() {
			role = existing.Role
		}
	}

	participant, err := s.participantRepo.Upsert(ctx, model.JoinParams{
		RoomID:      roomID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Role:        role,
		PeerRef:     peerRef,
	})
	if err != nil {
		return nil, apperrors.Store(err)
	}

	count, err := s.participantRepo.CountByRoom(ctx, roomID)
	if err == nil {
		if err := s.sessionRepo.RecordPeak(ctx, roomID, count); err != nil {
			log.Warn().Err(err).Str("roomId", roomID).Msg("failed to record peak participants")
		}
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", user.ID).
		Str("role", string(role)).
		Msg("participant joined")

	s.publishRoster(ctx, roomID)

	return participant, nil
}

// Leave deletes the roster row. Duplicate leaves are harmless; the
// derived participant count cannot go negative because nothing is
// decremented.
func (s *RosterService) Leave(ctx context.Context, roomID, userID string) error {
	removed, err := s.participantRepo.Delete(ctx, roomID, userID)
	if err != nil {
		return apperrors.Store(err)
	}
	if !removed {
		return nil
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", userID).
		Msg("participant left")

	s.publishRoster(ctx, roomID)
	return nil
}

// UpdateRole changes a participant's role. Used by the promote and
// demote flows; the conferencing role change happens before this.
func (s *RosterService) UpdateRole(ctx context.Context, roomID, userID string, role model.Role) error {
	updated, err := s.participantRepo.UpdateRole(ctx, roomID, userID, role)
	if err != nil {
		return apperrors.Store(err)
	}
	if !updated {
		return apperrors.NotFound("Participant")
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", userID).
		Str("role", string(role)).
		Msg("participant role updated")

	s.publishRoster(ctx, roomID)
	return nil
}

func (s *RosterService) List(ctx context.Context, roomID string) ([]model.Participant, error) {
	participants, err := s.participantRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return participants, nil
}

func (s *RosterService) publishRoster(ctx context.Context, roomID string) {
	participants, err := s.participantRepo.ListByRoom(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to load roster for publish")
		return
	}

	err = s.broker.Publish(ctx, redis.RoomChannel(roomID), pubsub.NewEvent(pubsub.EventRosterUpdated, map[string]any{
		"roomId":       roomID,
		"participants": participants,
		"count":        len(participants),
	}))
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to publish roster update")
	}
}
