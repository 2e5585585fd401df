package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/service"
)

type EventsHandler struct {
	broker        *pubsub.Broker
	roomService   *service.RoomService
	rosterService *service.RosterService
}

func NewEventsHandler(
	broker *pubsub.Broker,
	roomService *service.RoomService,
	rosterService *service.RosterService,
) *EventsHandler {
	return &EventsHandler{
		broker:        broker,
		roomService:   roomService,
		rosterService: rosterService,
	}
}

// GET /v1/rooms/{roomID}/events
// Streams room, roster and request events for one room. The stream
// opens with a snapshot so the client never needs a separate initial
// fetch.
func (h *EventsHandler) RoomEvents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := h.roomService.Get(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	setStreamHeaders(w)

	client := h.broker.Subscribe(redis.RoomChannel(roomID))
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("roomId", roomID).
		Msg("room event stream opened")

	participants, err := h.rosterService.List(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to load roster snapshot")
		participants = nil
	}

	if err := sendEvent(w, flusher, "snapshot", map[string]any{
		"room":         room,
		"participants": participants,
		"count":        len(participants),
	}); err != nil {
		return
	}

	h.stream(w, r, flusher, client, "roomId", roomID)
}

// GET /v1/rooms/live/events
// Streams changes to the set of live rooms.
func (h *EventsHandler) LiveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	setStreamHeaders(w)

	client := h.broker.Subscribe(redis.LiveChannel)
	defer h.broker.Unsubscribe(client)

	log.Info().Msg("live rooms event stream opened")

	rooms, err := h.roomService.ListLive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load live rooms snapshot")
		rooms = nil
	}

	if err := sendEvent(w, flusher, "snapshot", map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	}); err != nil {
		return
	}

	h.stream(w, r, flusher, client, "channel", redis.LiveChannel)
}

func (h *EventsHandler) stream(
	w http.ResponseWriter,
	r *http.Request,
	flusher http.Flusher,
	client *pubsub.Client,
	logKey, logValue string,
) {
	ctx := r.Context()

	heartbeat := time.NewTicker(pubsub.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str(logKey, logValue).
				Msg("event stream closed by client")
			return

		case <-client.Done:
			log.Info().
				Str(logKey, logValue).
				Msg("event stream closed by broker")
			return

		case event := <-client.Events:
			if err := sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str(logKey, logValue).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return sendRawEvent(w, flusher, pubsub.Event{Type: eventType, Data: jsonData})
}

func sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event pubsub.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
