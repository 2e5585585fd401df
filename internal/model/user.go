package model

import "time"

type User struct {
	ID          string    `db:"id" json:"id"`
	Handle      string    `db:"handle" json:"handle"`
	DisplayName string    `db:"display_name" json:"displayName"`
	AvatarURL   string    `db:"avatar_url" json:"avatarUrl"`
	TokenHash   string    `db:"token_hash" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateUserParams struct {
	ID          string
	Handle      string
	DisplayName string
	AvatarURL   string
	TokenHash   string
}
