package database

import (
	"context"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		token_hash TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		host_id TEXT NOT NULL REFERENCES users(id),
		host_handle TEXT NOT NULL,
		provider TEXT NOT NULL,
		conference_ref TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'live',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at TIMESTAMPTZ
	)`,
	// one live room per host; ended rows stay behind as history
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_live_host ON rooms (host_id) WHERE state = 'live'`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_live_created ON rooms (created_at DESC) WHERE state = 'live'`,
	`CREATE TABLE IF NOT EXISTS room_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		conference_ref TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at TIMESTAMPTZ,
		peak_participants INTEGER NOT NULL DEFAULT 1
	)`,
	// at most one open hosting interval per room
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_room_sessions_open ON room_sessions (room_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS participants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'listener',
		peer_ref TEXT NOT NULL DEFAULT '',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (room_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_room ON participants (room_id, joined_at)`,
	`CREATE TABLE IF NOT EXISTS speaker_requests (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		requester_id TEXT NOT NULL,
		requester_name TEXT NOT NULL,
		peer_ref TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// at most one pending request per (room, requester); the upsert in
	// SpeakerRequestRepository relies on this index
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_speaker_requests_pending ON speaker_requests (room_id, requester_id) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_speaker_requests_room ON speaker_requests (room_id, created_at)`,
}

// EnsureSchema applies the schema statements in order. Statements are
// idempotent so this is safe to run on every startup.
func EnsureSchema(ctx context.Context, db *DB) error {
	for _, s := range schemaStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
