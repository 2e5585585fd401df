package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/repository"
	"github.com/songjam/rooms-server/internal/util"
)

type RegisterParams struct {
	ID          string
	Handle      string
	DisplayName string
	AvatarURL   string
}

type RegisterResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// Register upserts a platform user and mints a fresh API token. The
// token is returned once and only its hash is stored.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	if params.ID == "" {
		return nil, apperrors.MissingRequired("id")
	}
	if params.Handle == "" {
		return nil, apperrors.MissingRequired("handle")
	}
	if params.DisplayName == "" {
		params.DisplayName = params.Handle
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("failed to generate token").WithCause(err)
	}

	user, err := s.userRepo.Upsert(ctx, model.CreateUserParams{
		ID:          params.ID,
		Handle:      params.Handle,
		DisplayName: params.DisplayName,
		AvatarURL:   params.AvatarURL,
		TokenHash:   util.HashToken(token),
	})
	if err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().
		Str("userId", user.ID).
		Str("handle", user.Handle).
		Msg("user registered")

	return &RegisterResult{User: user, Token: token}, nil
}
