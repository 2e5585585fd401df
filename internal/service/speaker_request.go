package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/conference"
	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/repository"
)

// SpeakerRequestService owns the raise-hand queue. One pending request
// exists per (room, requester) at any time; the repository's upsert
// enforces that under concurrent calls.
type SpeakerRequestService struct {
	roomRepo        repository.RoomRepository
	requestRepo     repository.SpeakerRequestRepository
	participantRepo repository.ParticipantRepository
	providers       conference.Registry
	broker          *pubsub.Broker
}

func NewSpeakerRequestService(
	roomRepo repository.RoomRepository,
	requestRepo repository.SpeakerRequestRepository,
	participantRepo repository.ParticipantRepository,
	providers conference.Registry,
	broker *pubsub.Broker,
) *SpeakerRequestService {
	return &SpeakerRequestService{
		roomRepo:        roomRepo,
		requestRepo:     requestRepo,
		participantRepo: participantRepo,
		providers:       providers,
		broker:          broker,
	}
}

// Request records a listener's ask to speak. Repeat calls from the same
// user refresh the stored peer reference and return the same pending
// request.
func (s *SpeakerRequestService) Request(ctx context.Context, roomID string, requester *model.User, peerRef string) (*model.SpeakerRequest, error) {
	room, err := s.loadLiveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID == requester.ID {
		return nil, apperrors.Conflict("Host cannot request to speak")
	}

	request, err := s.requestRepo.UpsertPending(ctx, model.UpsertSpeakerRequestParams{
		RoomID:        roomID,
		RequesterID:   requester.ID,
		RequesterName: requester.DisplayName,
		PeerRef:       peerRef,
	})
	if err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("requesterId", requester.ID).
		Str("requestId", request.ID).
		Msg("speaker request raised")

	s.publishPending(ctx, roomID)

	return request, nil
}

// Cancel lets a requester withdraw their own pending request.
func (s *SpeakerRequestService) Cancel(ctx context.Context, roomID, requestID, callerID string) error {
	request, err := s.loadRequest(ctx, roomID, requestID)
	if err != nil {
		return err
	}
	if request.RequesterID != callerID {
		return apperrors.Forbidden("Only the requester can cancel a request")
	}

	if _, err := s.requestRepo.Delete(ctx, requestID); err != nil {
		return apperrors.Store(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("requestId", requestID).
		Msg("speaker request cancelled")

	s.publishPending(ctx, roomID)
	return nil
}

// Approve promotes the requester: conferencing role first, then the
// roster row, then the request is deleted. When the requester has
// already disconnected the stale request is deleted instead of retried,
// and no error reaches the caller.
func (s *SpeakerRequestService) Approve(ctx context.Context, roomID, requestID, callerID string) error {
	room, err := s.loadLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != callerID {
		return apperrors.Forbidden("Only the host can approve requests")
	}

	request, err := s.loadRequest(ctx, roomID, requestID)
	if err != nil {
		return err
	}

	provider, ok := s.providers.Get(room.Provider)
	if !ok {
		return apperrors.Internal("room provider not configured")
	}

	err = provider.ChangeRole(ctx, room.ConferenceRef, request.PeerRef, model.RoleSpeaker, true)
	if errors.Is(err, conference.ErrPeerNotPresent) {
		// requester disconnected: drop the stale request, roster untouched
		if _, delErr := s.requestRepo.Delete(ctx, requestID); delErr != nil {
			return apperrors.Store(delErr)
		}
		log.Warn().
			Str("roomId", roomID).
			Str("requestId", requestID).
			Str("peerRef", request.PeerRef).
			Msg("approved requester no longer present, request dropped")
		s.publishPending(ctx, roomID)
		return nil
	}
	if err != nil {
		return apperrors.External(string(room.Provider), err)
	}

	if _, err := s.participantRepo.UpdateRole(ctx, roomID, request.RequesterID, model.RoleSpeaker); err != nil {
		return apperrors.Store(err)
	}

	if _, err := s.requestRepo.Delete(ctx, requestID); err != nil {
		return apperrors.Store(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("requestId", requestID).
		Str("requesterId", request.RequesterID).
		Msg("speaker request approved")

	s.publishPending(ctx, roomID)
	s.publishRoster(ctx, roomID)
	return nil
}

// Deny removes a request with no conferencing side effects.
func (s *SpeakerRequestService) Deny(ctx context.Context, roomID, requestID, callerID string) error {
	room, err := s.loadLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != callerID {
		return apperrors.Forbidden("Only the host can deny requests")
	}

	if _, err := s.loadRequest(ctx, roomID, requestID); err != nil {
		return err
	}

	if _, err := s.requestRepo.Delete(ctx, requestID); err != nil {
		return apperrors.Store(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("requestId", requestID).
		Msg("speaker request denied")

	s.publishPending(ctx, roomID)
	return nil
}

// Demote moves a speaker back to listener: conferencing role first, then
// the roster row. A stale peer reference only logs; the roster is still
// corrected.
func (s *SpeakerRequestService) Demote(ctx context.Context, roomID, userID, callerID string) error {
	room, err := s.loadLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != callerID {
		return apperrors.Forbidden("Only the host can remove speakers")
	}

	participant, err := s.participantRepo.FindByRoomAndUser(ctx, roomID, userID)
	if err != nil {
		return apperrors.Store(err)
	}
	if participant == nil {
		return apperrors.NotFound("Participant")
	}

	provider, ok := s.providers.Get(room.Provider)
	if !ok {
		return apperrors.Internal("room provider not configured")
	}

	err = provider.ChangeRole(ctx, room.ConferenceRef, participant.PeerRef, model.RoleListener, true)
	if err != nil && !errors.Is(err, conference.ErrPeerNotPresent) {
		return apperrors.External(string(room.Provider), err)
	}
	if errors.Is(err, conference.ErrPeerNotPresent) {
		log.Warn().
			Str("roomId", roomID).
			Str("userId", userID).
			Msg("demote target no longer connected")
	}

	if _, err := s.participantRepo.UpdateRole(ctx, roomID, userID, model.RoleListener); err != nil {
		return apperrors.Store(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("userId", userID).
		Msg("speaker demoted to listener")

	s.publishRoster(ctx, roomID)
	return nil
}

func (s *SpeakerRequestService) ListPending(ctx context.Context, roomID, callerID string) ([]model.SpeakerRequest, error) {
	room, err := s.loadLiveRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != callerID {
		return nil, apperrors.Forbidden("Only the host can list requests")
	}

	requests, err := s.requestRepo.ListPending(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return requests, nil
}

func (s *SpeakerRequestService) loadLiveRoom(ctx context.Context, roomID string) (*model.Room, error) {
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
	return room, nil
}

func (s *SpeakerRequestService) loadRequest(ctx context.Context, roomID, requestID string) (*model.SpeakerRequest, error) {
	request, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if request == nil || request.RoomID != roomID {
		return nil, apperrors.NotFound("Speaker request")
	}
	return request, nil
}

func (s *SpeakerRequestService) publishPending(ctx context.Context, roomID string) {
	requests, err := s.requestRepo.ListPending(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to load pending requests for publish")
		return
	}

	err = s.broker.Publish(ctx, redis.RoomChannel(roomID), pubsub.NewEvent(pubsub.EventRequestPending, map[string]any{
		"roomId":   roomID,
		"requests": requests,
	}))
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to publish pending requests")
	}
}

func (s *SpeakerRequestService) publishRoster(ctx context.Context, roomID string) {
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
