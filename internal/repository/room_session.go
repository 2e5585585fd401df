package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/songjam/rooms-server/internal/model"
)

type RoomSessionRepository interface {
	// Open starts a new hosting interval. The partial unique index on
	// (room_id) WHERE ended_at IS NULL rejects a second open interval.
	Open(ctx context.Context, roomID, conferenceRef string) (*model.RoomSession, error)
	FindOpen(ctx context.Context, roomID string) (*model.RoomSession, error)
	ListByRoom(ctx context.Context, roomID string) ([]model.RoomSession, error)
	// Close ends the open interval of the room, if any.
	Close(ctx context.Context, roomID string, endedAt time.Time) error
	// RecordPeak raises peak_participants to count if higher.
	RecordPeak(ctx context.Context, roomID string, count int) error
	// CloseOrphaned closes open intervals whose room already ended.
	CloseOrphaned(ctx context.Context) (int64, error)
	WithTx(tx *sqlx.Tx) RoomSessionRepository
}

type roomSessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type roomSessionRepo struct {
	db roomSessionDB
}

func NewRoomSessionRepository(db *sqlx.DB) RoomSessionRepository {
	return &roomSessionRepo{db: db}
}

func (r *roomSessionRepo) WithTx(tx *sqlx.Tx) RoomSessionRepository {
	return &roomSessionRepo{db: tx}
}

func (r *roomSessionRepo) Open(ctx context.Context, roomID, conferenceRef string) (*model.RoomSession, error) {
	var session model.RoomSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO room_sessions (room_id, conference_ref)
		VALUES ($1, $2)
		RETURNING *
	`, roomID, conferenceRef)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *roomSessionRepo) FindOpen(ctx context.Context, roomID string) (*model.RoomSession, error) {
	var session model.RoomSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM room_sessions
		WHERE room_id = $1 AND ended_at IS NULL
	`, roomID)
	return HandleNotFound(&session, err)
}

func (r *roomSessionRepo) ListByRoom(ctx context.Context, roomID string) ([]model.RoomSession, error) {
	sessions := []model.RoomSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM room_sessions
		WHERE room_id = $1
		ORDER BY started_at DESC
	`, roomID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *roomSessionRepo) Close(ctx context.Context, roomID string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE room_sessions SET
			ended_at = $2
		WHERE room_id = $1 AND ended_at IS NULL
	`, roomID, endedAt)
	return err
}

func (r *roomSessionRepo) RecordPeak(ctx context.Context, roomID string, count int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE room_sessions SET
			peak_participants = GREATEST(peak_participants, $2)
		WHERE room_id = $1 AND ended_at IS NULL
	`, roomID, count)
	return err
}

func (r *roomSessionRepo) CloseOrphaned(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE room_sessions SET
			ended_at = NOW()
		WHERE ended_at IS NULL
		AND EXISTS (
			SELECT 1 FROM rooms r
			WHERE r.id = room_sessions.room_id AND r.state = 'ended'
		)
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
