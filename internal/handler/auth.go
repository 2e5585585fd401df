package handler

import (
	"encoding/json"
	"net/http"

	"github.com/songjam/rooms-server/internal/service"
)

type AuthHandler struct {
	userService *service.UserService
}

func NewAuthHandler(userService *service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// POST /v1/register
// Upserts a platform user and returns a fresh API token. The previous
// token stops working immediately.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	result, err := h.userService.Register(r.Context(), service.RegisterParams{
		ID:          req.ID,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
