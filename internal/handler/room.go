package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/songjam/rooms-server/internal/middleware"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/service"
)

type RoomHandler struct {
	roomService    *service.RoomService
	rosterService  *service.RosterService
	requestService *service.SpeakerRequestService
}

func NewRoomHandler(
	roomService *service.RoomService,
	rosterService *service.RosterService,
	requestService *service.SpeakerRequestService,
) *RoomHandler {
	return &RoomHandler{
		roomService:    roomService,
		rosterService:  rosterService,
		requestService: requestService,
	}
}

// Register attaches the room routes to r. The streaming endpoints live
// on the same path space but outside the request timeout, so the caller
// owns the subrouter.
func (h *RoomHandler) Register(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.ListLive)
	r.Get("/{roomID}", h.Get)
	r.Post("/{roomID}/end", h.End)
	r.Get("/{roomID}/sessions", h.Sessions)
	r.Post("/{roomID}/token", h.Token)

	r.Get("/{roomID}/participants", h.Participants)
	r.Put("/{roomID}/presence", h.Join)
	r.Delete("/{roomID}/presence", h.Leave)
	r.Post("/{roomID}/participants/{userID}/demote", h.Demote)

	r.Post("/{roomID}/requests", h.RaiseHand)
	r.Get("/{roomID}/requests", h.PendingRequests)
	r.Delete("/{roomID}/requests/{requestID}", h.CancelRequest)
	r.Post("/{roomID}/requests/{requestID}/approve", h.ApproveRequest)
	r.Post("/{roomID}/requests/{requestID}/deny", h.DenyRequest)
}

// POST /v1/rooms
// Provisions a conferencing room and creates the live room record.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Provider    string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	room, err := h.roomService.Create(r.Context(), user, service.CreateRoomParams{
		Title:       req.Title,
		Description: req.Description,
		Provider:    model.Provider(req.Provider),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// GET /v1/rooms
func (h *RoomHandler) ListLive(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.roomService.ListLive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// GET /v1/rooms/{roomID}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomService.Get(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, room)
}

// POST /v1/rooms/{roomID}/end
// Host only. Ending an already-ended room returns the record unchanged.
func (h *RoomHandler) End(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	room, err := h.roomService.End(r.Context(), user.ID, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, room)
}

// GET /v1/rooms/{roomID}/sessions
func (h *RoomHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.roomService.Sessions(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// POST /v1/rooms/{roomID}/token
// Issues a join credential. No roster entry is created here; the client
// reports presence once its conferencing session is connected.
func (h *RoomHandler) Token(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	credential, err := h.roomService.Credential(r.Context(), user, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, credential)
}

// GET /v1/rooms/{roomID}/participants
func (h *RoomHandler) Participants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.rosterService.List(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participants": participants,
		"count":        len(participants),
	})
}

// PUT /v1/rooms/{roomID}/presence
// Reports a confirmed conferencing connection. Repeat calls refresh the
// peer reference, so reconnects are plain re-puts.
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		PeerID string `json:"peerId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.PeerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "peerId is required"})
		return
	}

	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleListener
	}

	participant, err := h.rosterService.Join(r.Context(), chi.URLParam(r, "roomID"), user, role, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, participant)
}

// DELETE /v1/rooms/{roomID}/presence
// Leaving a room the user is not in succeeds and changes nothing.
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	if err := h.rosterService.Leave(r.Context(), chi.URLParam(r, "roomID"), user.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

// POST /v1/rooms/{roomID}/participants/{userID}/demote
// Host only. Moves a speaker back to listener.
func (h *RoomHandler) Demote(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	err := h.requestService.Demote(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "userID"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"demoted": true})
}

// POST /v1/rooms/{roomID}/requests
// Raise hand. Repeat calls refresh the one pending request rather than
// queueing duplicates.
func (h *RoomHandler) RaiseHand(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.PeerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "peerId is required"})
		return
	}

	request, err := h.requestService.Request(r.Context(), chi.URLParam(r, "roomID"), user, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, request)
}

// GET /v1/rooms/{roomID}/requests
// Host only.
func (h *RoomHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	requests, err := h.requestService.ListPending(r.Context(), chi.URLParam(r, "roomID"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

// DELETE /v1/rooms/{roomID}/requests/{requestID}
// Requester withdraws their own pending request.
func (h *RoomHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	err := h.requestService.Cancel(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "requestID"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// POST /v1/rooms/{roomID}/requests/{requestID}/approve
// Host only. A stale request whose peer already left is cleared without
// surfacing an error.
func (h *RoomHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	err := h.requestService.Approve(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "requestID"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

// POST /v1/rooms/{roomID}/requests/{requestID}/deny
// Host only.
func (h *RoomHandler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	err := h.requestService.Deny(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "requestID"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"denied": true})
}
