package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/songjam/rooms-server/internal/conference"
	"github.com/songjam/rooms-server/internal/database"
	"github.com/songjam/rooms-server/internal/middleware"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/repository"
	"github.com/songjam/rooms-server/internal/service"
)

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

// testStack wires the real handler/service layers over mock repositories
// and the fake conferencing provider, mirroring the server's routing.
type testStack struct {
	roomRepo        *mockRoomRepo
	sessionRepo     *mockSessionRepo
	participantRepo *mockParticipantRepo
	requestRepo     *mockRequestRepo
	userRepo        *mockUserRepo
	provider        *conference.FakeProvider
	broker          *pubsub.Broker
	router          chi.Router
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	s := &testStack{
		roomRepo:        new(mockRoomRepo),
		sessionRepo:     new(mockSessionRepo),
		participantRepo: new(mockParticipantRepo),
		requestRepo:     new(mockRequestRepo),
		userRepo:        new(mockUserRepo),
		provider:        conference.NewFakeProvider(),
		broker:          pubsub.NewBroker(nil),
	}
	t.Cleanup(s.broker.Close)

	providers := conference.Registry{model.ProviderSFU: s.provider}
	roomService := service.NewRoomService(fakeTx{}, s.roomRepo, s.sessionRepo, s.participantRepo, providers, s.broker)
	rosterService := service.NewRosterService(s.roomRepo, s.participantRepo, s.sessionRepo, s.broker)
	requestService := service.NewSpeakerRequestService(s.roomRepo, s.requestRepo, s.participantRepo, providers, s.broker)
	userService := service.NewUserService(s.userRepo)

	authHandler := NewAuthHandler(userService)
	roomHandler := NewRoomHandler(roomService, rosterService, requestService)
	eventsHandler := NewEventsHandler(s.broker, roomService, rosterService)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/live/events", eventsHandler.LiveEvents)
			r.Get("/{roomID}/events", eventsHandler.RoomEvents)
			roomHandler.Register(r)
		})
	})
	s.router = r

	return s
}

// do runs one request through the router. A non-nil user is injected the
// way the auth middleware would.
func (s *testStack) do(t *testing.T, method, path string, user *model.User, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, user))
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}
