package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/songjam/rooms-server/internal/model"
)

func TestEventRoutes_RoomSnapshot(t *testing.T) {
	t.Run("stream opens with a roster snapshot", func(t *testing.T) {
		s := newTestStack(t)

		s.roomRepo.On("FindByID", mock.Anything, "r1").Return(liveRoom("r1", "u-host", "fake-room-1"), nil)
		s.participantRepo.On("ListByRoom", mock.Anything, "r1").Return([]model.Participant{
			{ID: "p1", RoomID: "r1", UserID: "u-host", Role: model.RoleHost},
		}, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/events", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, "event: snapshot")
		assert.Contains(t, body, `"id":"r1"`)
		assert.Contains(t, body, `"userId":"u-host"`)
	})

	t.Run("unknown room gets 404 before the stream opens", func(t *testing.T) {
		s := newTestStack(t)

		s.roomRepo.On("FindByID", mock.Anything, "nope").Return(nil, nil)

		rec := s.do(t, http.MethodGet, "/v1/rooms/nope/events", nil, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEventRoutes_LiveSnapshot(t *testing.T) {
	s := newTestStack(t)

	s.roomRepo.On("ListLive", mock.Anything).Return([]model.Room{
		*liveRoom("r1", "u-host", "fake-room-1"),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/live/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: snapshot")
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
}
