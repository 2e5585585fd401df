package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/service"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler is the websocket twin of the SSE stream for clients that
// prefer a socket. It carries the same room events.
type WSHandler struct {
	broker        *pubsub.Broker
	roomService   *service.RoomService
	rosterService *service.RosterService
}

func NewWSHandler(
	broker *pubsub.Broker,
	roomService *service.RoomService,
	rosterService *service.RosterService,
) *WSHandler {
	return &WSHandler{
		broker:        broker,
		roomService:   roomService,
		rosterService: rosterService,
	}
}

// GET /v1/rooms/{roomID}/ws
func (h *WSHandler) RoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := h.roomService.Get(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("websocket upgrade failed")
		return
	}

	client := h.broker.Subscribe(redis.RoomChannel(roomID))

	log.Info().
		Str("roomId", roomID).
		Msg("websocket connection established")

	participants, listErr := h.rosterService.List(r.Context(), roomID)
	if listErr != nil {
		log.Error().Err(listErr).Str("roomId", roomID).Msg("failed to load roster snapshot")
	}

	snapshot, _ := json.Marshal(map[string]any{
		"room":         room,
		"participants": participants,
		"count":        len(participants),
	})

	done := make(chan struct{})

	// reader exists only to observe the close
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.broker.Unsubscribe(client)
		conn.Close()
		log.Info().Str("roomId", roomID).Msg("websocket connection closed")
	}()

	if err := writeSocketEvent(conn, pubsub.Event{Type: "snapshot", Data: snapshot}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return

		case <-client.Done:
			return

		case event := <-client.Events:
			if err := writeSocketEvent(conn, event); err != nil {
				log.Debug().Err(err).Str("roomId", roomID).Msg("websocket write failed")
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeSocketEvent(conn *websocket.Conn, event pubsub.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}
