package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/songjam/rooms-server/internal/database"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/repository"
)

// fakeTx satisfies database.Transactor without a database; the callback
// runs with a nil transaction and the mock repositories ignore it.
type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockRoomRepo struct {
	mock.Mock
}

func (m *mockRoomRepo) Create(ctx context.Context, params model.CreateRoomParams) (*model.Room, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Room), args.Error(1)
}

func (m *mockRoomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Room), args.Error(1)
}

func (m *mockRoomRepo) FindLiveByHost(ctx context.Context, hostID string) (*model.Room, error) {
	args := m.Called(ctx, hostID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Room), args.Error(1)
}

func (m *mockRoomRepo) ListLive(ctx context.Context) ([]model.Room, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Room), args.Error(1)
}

func (m *mockRoomRepo) MarkEnded(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, endedAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockRoomRepo) EndAbandoned(ctx context.Context, createdBefore time.Time) (int64, error) {
	args := m.Called(ctx, createdBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRoomRepo) WithTx(tx *sqlx.Tx) repository.RoomRepository {
	return m
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Open(ctx context.Context, roomID, conferenceRef string) (*model.RoomSession, error) {
	args := m.Called(ctx, roomID, conferenceRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RoomSession), args.Error(1)
}

func (m *mockSessionRepo) FindOpen(ctx context.Context, roomID string) (*model.RoomSession, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RoomSession), args.Error(1)
}

func (m *mockSessionRepo) ListByRoom(ctx context.Context, roomID string) ([]model.RoomSession, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RoomSession), args.Error(1)
}

func (m *mockSessionRepo) Close(ctx context.Context, roomID string, endedAt time.Time) error {
	args := m.Called(ctx, roomID, endedAt)
	return args.Error(0)
}

func (m *mockSessionRepo) RecordPeak(ctx context.Context, roomID string, count int) error {
	args := m.Called(ctx, roomID, count)
	return args.Error(0)
}

func (m *mockSessionRepo) CloseOrphaned(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.RoomSessionRepository {
	return m
}

type mockParticipantRepo struct {
	mock.Mock
}

func (m *mockParticipantRepo) Upsert(ctx context.Context, params model.JoinParams) (*model.Participant, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) FindByRoomAndUser(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	args := m.Called(ctx, roomID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) ListByRoom(ctx context.Context, roomID string) ([]model.Participant, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Participant), args.Error(1)
}

func (m *mockParticipantRepo) UpdateRole(ctx context.Context, roomID, userID string, role model.Role) (bool, error) {
	args := m.Called(ctx, roomID, userID, role)
	return args.Bool(0), args.Error(1)
}

func (m *mockParticipantRepo) Delete(ctx context.Context, roomID, userID string) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockParticipantRepo) CountByRoom(ctx context.Context, roomID string) (int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Error(1)
}

func (m *mockParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository {
	return m
}

type mockRequestRepo struct {
	mock.Mock
}

func (m *mockRequestRepo) UpsertPending(ctx context.Context, params model.UpsertSpeakerRequestParams) (*model.SpeakerRequest, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SpeakerRequest), args.Error(1)
}

func (m *mockRequestRepo) FindByID(ctx context.Context, id string) (*model.SpeakerRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SpeakerRequest), args.Error(1)
}

func (m *mockRequestRepo) ListPending(ctx context.Context, roomID string) ([]model.SpeakerRequest, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SpeakerRequest), args.Error(1)
}

func (m *mockRequestRepo) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRequestRepo) DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	args := m.Called(ctx, createdBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRequestRepo) WithTx(tx *sqlx.Tx) repository.SpeakerRequestRepository {
	return m
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Upsert(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}
