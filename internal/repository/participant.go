package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/songjam/rooms-server/internal/model"
)

type ParticipantRepository interface {
	// Upsert writes the (room, user) roster row, refreshing role and
	// peer reference when the row already exists. Re-joining after a
	// reconnect is therefore a plain repeat call.
	Upsert(ctx context.Context, params model.JoinParams) (*model.Participant, error)
	FindByRoomAndUser(ctx context.Context, roomID, userID string) (*model.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]model.Participant, error)
	UpdateRole(ctx context.Context, roomID, userID string, role model.Role) (bool, error)
	// Delete removes the roster row. Returns false when no row existed,
	// so duplicate leaves are harmless.
	Delete(ctx context.Context, roomID, userID string) (bool, error)
	CountByRoom(ctx context.Context, roomID string) (int, error)
	WithTx(tx *sqlx.Tx) ParticipantRepository
}

type participantDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type participantRepo struct {
	db participantDB
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) WithTx(tx *sqlx.Tx) ParticipantRepository {
	return &participantRepo{db: tx}
}

func (r *participantRepo) Upsert(ctx context.Context, params model.JoinParams) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		INSERT INTO participants (room_id, user_id, display_name, avatar_url, role, peer_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			role = EXCLUDED.role,
			peer_ref = EXCLUDED.peer_ref
		RETURNING *
	`, params.RoomID, params.UserID, params.DisplayName, params.AvatarURL,
		params.Role, params.PeerRef)
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepo) FindByRoomAndUser(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		SELECT * FROM participants
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	return HandleNotFound(&participant, err)
}

func (r *participantRepo) ListByRoom(ctx context.Context, roomID string) ([]model.Participant, error) {
	participants := []model.Participant{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT * FROM participants
		WHERE room_id = $1
		ORDER BY joined_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *participantRepo) UpdateRole(ctx context.Context, roomID, userID string, role model.Role) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE participants SET
			role = $3
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, role)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *participantRepo) Delete(ctx context.Context, roomID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM participants
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *participantRepo) CountByRoom(ctx context.Context, roomID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM participants WHERE room_id = $1
	`, roomID)
	if err != nil {
		return 0, err
	}
	return count, nil
}
