package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/songjam/rooms-server/internal/database"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories,
// enough to run whole join/leave/promote scenarios without a database.
type memStore struct {
	mu           sync.Mutex
	nextID       int
	rooms        map[string]*model.Room
	sessions     map[string]*model.RoomSession
	participants map[string]map[string]*model.Participant // roomID -> userID
	requests     map[string]*model.SpeakerRequest
}

func newMemStore() *memStore {
	return &memStore{
		rooms:        make(map[string]*model.Room),
		sessions:     make(map[string]*model.RoomSession),
		participants: make(map[string]map[string]*model.Participant),
		requests:     make(map[string]*model.SpeakerRequest),
	}
}

func (s *memStore) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

func (s *memStore) genID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *memStore) countLocked(roomID string) int {
	return len(s.participants[roomID])
}

func (s *memStore) roomCopyLocked(room *model.Room) *model.Room {
	out := *room
	out.ParticipantCount = s.countLocked(room.ID)
	return &out
}

type memRoomRepo struct{ s *memStore }

func (r memRoomRepo) Create(ctx context.Context, params model.CreateRoomParams) (*model.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room := &model.Room{
		ID:            params.ID,
		Title:         params.Title,
		Description:   params.Description,
		HostID:        params.HostID,
		HostHandle:    params.HostHandle,
		Provider:      params.Provider,
		ConferenceRef: params.ConferenceRef,
		State:         model.RoomStateLive,
		CreatedAt:     time.Now(),
	}
	r.s.rooms[room.ID] = room
	return r.s.roomCopyLocked(room), nil
}

func (r memRoomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return nil, nil
	}
	return r.s.roomCopyLocked(room), nil
}

func (r memRoomRepo) FindLiveByHost(ctx context.Context, hostID string) (*model.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, room := range r.s.rooms {
		if room.HostID == hostID && room.State == model.RoomStateLive {
			return r.s.roomCopyLocked(room), nil
		}
	}
	return nil, nil
}

func (r memRoomRepo) ListLive(ctx context.Context) ([]model.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Room
	for _, room := range r.s.rooms {
		if room.State == model.RoomStateLive {
			out = append(out, *r.s.roomCopyLocked(room))
		}
	}
	return out, nil
}

func (r memRoomRepo) MarkEnded(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[id]
	if !ok || room.State != model.RoomStateLive {
		return false, nil
	}
	room.State = model.RoomStateEnded
	room.EndedAt = &endedAt
	return true, nil
}

func (r memRoomRepo) EndAbandoned(ctx context.Context, createdBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, room := range r.s.rooms {
		if room.State == model.RoomStateLive && room.CreatedAt.Before(createdBefore) && r.s.countLocked(room.ID) == 0 {
			room.State = model.RoomStateEnded
			room.EndedAt = &now
			n++
		}
	}
	return n, nil
}

func (r memRoomRepo) WithTx(tx *sqlx.Tx) repository.RoomRepository { return r }

type memSessionRepo struct{ s *memStore }

func (r memSessionRepo) Open(ctx context.Context, roomID, conferenceRef string) (*model.RoomSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess := &model.RoomSession{
		ID:            r.s.genID("sess"),
		RoomID:        roomID,
		ConferenceRef: conferenceRef,
		StartedAt:     time.Now(),
	}
	r.s.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

func (r memSessionRepo) FindOpen(ctx context.Context, roomID string) (*model.RoomSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.RoomID == roomID && sess.EndedAt == nil {
			out := *sess
			return &out, nil
		}
	}
	return nil, nil
}

func (r memSessionRepo) ListByRoom(ctx context.Context, roomID string) ([]model.RoomSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.RoomSession
	for _, sess := range r.s.sessions {
		if sess.RoomID == roomID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (r memSessionRepo) Close(ctx context.Context, roomID string, endedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.RoomID == roomID && sess.EndedAt == nil {
			t := endedAt
			sess.EndedAt = &t
		}
	}
	return nil
}

func (r memSessionRepo) RecordPeak(ctx context.Context, roomID string, count int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.RoomID == roomID && sess.EndedAt == nil && count > sess.PeakParticipants {
			sess.PeakParticipants = count
		}
	}
	return nil
}

func (r memSessionRepo) CloseOrphaned(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, sess := range r.s.sessions {
		room := r.s.rooms[sess.RoomID]
		if sess.EndedAt == nil && room != nil && room.State == model.RoomStateEnded {
			t := now
			sess.EndedAt = &t
			n++
		}
	}
	return n, nil
}

func (r memSessionRepo) WithTx(tx *sqlx.Tx) repository.RoomSessionRepository { return r }

type memParticipantRepo struct{ s *memStore }

func (r memParticipantRepo) Upsert(ctx context.Context, params model.JoinParams) (*model.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.participants[params.RoomID] == nil {
		r.s.participants[params.RoomID] = make(map[string]*model.Participant)
	}

	p := r.s.participants[params.RoomID][params.UserID]
	if p == nil {
		p = &model.Participant{
			ID:       r.s.genID("part"),
			RoomID:   params.RoomID,
			UserID:   params.UserID,
			JoinedAt: time.Now(),
		}
		r.s.participants[params.RoomID][params.UserID] = p
	}
	p.DisplayName = params.DisplayName
	p.AvatarURL = params.AvatarURL
	p.Role = params.Role
	p.PeerRef = params.PeerRef

	out := *p
	return &out, nil
}

func (r memParticipantRepo) FindByRoomAndUser(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p := r.s.participants[roomID][userID]
	if p == nil {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (r memParticipantRepo) ListByRoom(ctx context.Context, roomID string) ([]model.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Participant
	for _, p := range r.s.participants[roomID] {
		out = append(out, *p)
	}
	return out, nil
}

func (r memParticipantRepo) UpdateRole(ctx context.Context, roomID, userID string, role model.Role) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p := r.s.participants[roomID][userID]
	if p == nil {
		return false, nil
	}
	p.Role = role
	return true, nil
}

func (r memParticipantRepo) Delete(ctx context.Context, roomID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.participants[roomID][userID] == nil {
		return false, nil
	}
	delete(r.s.participants[roomID], userID)
	return true, nil
}

func (r memParticipantRepo) CountByRoom(ctx context.Context, roomID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countLocked(roomID), nil
}

func (r memParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository { return r }

type memRequestRepo struct{ s *memStore }

func (r memRequestRepo) UpsertPending(ctx context.Context, params model.UpsertSpeakerRequestParams) (*model.SpeakerRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, req := range r.s.requests {
		if req.RoomID == params.RoomID && req.RequesterID == params.RequesterID && req.Status == model.RequestStatusPending {
			req.RequesterName = params.RequesterName
			req.PeerRef = params.PeerRef
			out := *req
			return &out, nil
		}
	}

	req := &model.SpeakerRequest{
		ID:            r.s.genID("req"),
		RoomID:        params.RoomID,
		RequesterID:   params.RequesterID,
		RequesterName: params.RequesterName,
		PeerRef:       params.PeerRef,
		Status:        model.RequestStatusPending,
		CreatedAt:     time.Now(),
	}
	r.s.requests[req.ID] = req
	out := *req
	return &out, nil
}

func (r memRequestRepo) FindByID(ctx context.Context, id string) (*model.SpeakerRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, nil
	}
	out := *req
	return &out, nil
}

func (r memRequestRepo) ListPending(ctx context.Context, roomID string) ([]model.SpeakerRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.SpeakerRequest
	for _, req := range r.s.requests {
		if req.RoomID == roomID && req.Status == model.RequestStatusPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r memRequestRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.requests[id]; !ok {
		return false, nil
	}
	delete(r.s.requests, id)
	return true, nil
}

func (r memRequestRepo) DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, req := range r.s.requests {
		if req.Status == model.RequestStatusPending && req.CreatedAt.Before(createdBefore) {
			delete(r.s.requests, id)
			n++
		}
	}
	return n, nil
}

func (r memRequestRepo) WithTx(tx *sqlx.Tx) repository.SpeakerRequestRepository { return r }
