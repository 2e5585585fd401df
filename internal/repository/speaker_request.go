package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/songjam/rooms-server/internal/model"
)

type SpeakerRequestRepository interface {
	// UpsertPending inserts a pending request, or refreshes the peer
	// reference of the existing pending row for the same (room,
	// requester). The partial unique index makes this atomic against
	// concurrent raise-hand calls: exactly one pending row survives.
	UpsertPending(ctx context.Context, params model.UpsertSpeakerRequestParams) (*model.SpeakerRequest, error)
	FindByID(ctx context.Context, id string) (*model.SpeakerRequest, error)
	ListPending(ctx context.Context, roomID string) ([]model.SpeakerRequest, error)
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteStale removes pending requests older than the cutoff.
	DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) SpeakerRequestRepository
}

type speakerRequestDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type speakerRequestRepo struct {
	db speakerRequestDB
}

func NewSpeakerRequestRepository(db *sqlx.DB) SpeakerRequestRepository {
	return &speakerRequestRepo{db: db}
}

func (r *speakerRequestRepo) WithTx(tx *sqlx.Tx) SpeakerRequestRepository {
	return &speakerRequestRepo{db: tx}
}

func (r *speakerRequestRepo) UpsertPending(ctx context.Context, params model.UpsertSpeakerRequestParams) (*model.SpeakerRequest, error) {
	var request model.SpeakerRequest
	err := r.db.GetContext(ctx, &request, `
		INSERT INTO speaker_requests (room_id, requester_id, requester_name, peer_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, requester_id) WHERE status = 'pending' DO UPDATE SET
			requester_name = EXCLUDED.requester_name,
			peer_ref = EXCLUDED.peer_ref
		RETURNING *
	`, params.RoomID, params.RequesterID, params.RequesterName, params.PeerRef)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *speakerRequestRepo) FindByID(ctx context.Context, id string) (*model.SpeakerRequest, error) {
	var request model.SpeakerRequest
	err := r.db.GetContext(ctx, &request, `
		SELECT * FROM speaker_requests WHERE id = $1
	`, id)
	return HandleNotFound(&request, err)
}

func (r *speakerRequestRepo) ListPending(ctx context.Context, roomID string) ([]model.SpeakerRequest, error) {
	requests := []model.SpeakerRequest{}
	err := r.db.SelectContext(ctx, &requests, `
		SELECT * FROM speaker_requests
		WHERE room_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *speakerRequestRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM speaker_requests WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *speakerRequestRepo) DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM speaker_requests
		WHERE status = 'pending' AND created_at < $1
	`, createdBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
