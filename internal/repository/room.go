package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/songjam/rooms-server/internal/model"
)

// roomColumns selects room rows with the participant count derived from
// the roster. The count is never stored on the room row itself.
const roomColumns = `
	r.*,
	(SELECT COUNT(*) FROM participants p WHERE p.room_id = r.id) AS participant_count
`

type RoomRepository interface {
	Create(ctx context.Context, params model.CreateRoomParams) (*model.Room, error)
	FindByID(ctx context.Context, id string) (*model.Room, error)
	FindLiveByHost(ctx context.Context, hostID string) (*model.Room, error)
	ListLive(ctx context.Context) ([]model.Room, error)
	// MarkEnded transitions a live room to ended and stamps endedAt.
	// Returns false when the room was not live, which makes ending
	// idempotent at the caller.
	MarkEnded(ctx context.Context, id string, endedAt time.Time) (bool, error)
	// EndAbandoned ends live rooms created before the cutoff whose
	// roster is empty.
	EndAbandoned(ctx context.Context, createdBefore time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) RoomRepository
}

type roomDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type roomRepo struct {
	db roomDB
}

func NewRoomRepository(db *sqlx.DB) RoomRepository {
	return &roomRepo{db: db}
}

func (r *roomRepo) WithTx(tx *sqlx.Tx) RoomRepository {
	return &roomRepo{db: tx}
}

func (r *roomRepo) Create(ctx context.Context, params model.CreateRoomParams) (*model.Room, error) {
	var room model.Room
	err := r.db.GetContext(ctx, &room, `
		INSERT INTO rooms (id, title, description, host_id, host_handle, provider, conference_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *, 0 AS participant_count
	`, params.ID, params.Title, params.Description, params.HostID, params.HostHandle,
		params.Provider, params.ConferenceRef)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	err := r.db.GetContext(ctx, &room, `
		SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1
	`, id)
	return HandleNotFound(&room, err)
}

func (r *roomRepo) FindLiveByHost(ctx context.Context, hostID string) (*model.Room, error) {
	var room model.Room
	err := r.db.GetContext(ctx, &room, `
		SELECT `+roomColumns+` FROM rooms r
		WHERE r.host_id = $1 AND r.state = 'live'
	`, hostID)
	return HandleNotFound(&room, err)
}

func (r *roomRepo) ListLive(ctx context.Context) ([]model.Room, error) {
	rooms := []model.Room{}
	err := r.db.SelectContext(ctx, &rooms, `
		SELECT `+roomColumns+` FROM rooms r
		WHERE r.state = 'live'
		ORDER BY r.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepo) MarkEnded(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET
			state = 'ended',
			ended_at = $2
		WHERE id = $1 AND state = 'live'
	`, id, endedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *roomRepo) EndAbandoned(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET
			state = 'ended',
			ended_at = NOW()
		WHERE state = 'live'
		AND created_at < $1
		AND NOT EXISTS (SELECT 1 FROM participants p WHERE p.room_id = rooms.id)
	`, createdBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
