package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Room not found")
		assert.Equal(t, "NOT_FOUND: Room not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrCodeStore, "Store error", cause)
		assert.Contains(t, err.Error(), "STORE_ERROR")
		assert.Contains(t, err.Error(), "Store error")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "title", "reason": "empty"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})

	t.Run("errors.Is matches wrapped cause", func(t *testing.T) {
		cause := errors.New("sentinel")
		err := fmt.Errorf("outer: %w", Store(cause))
		assert.True(t, errors.Is(err, cause))
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"NotFound", func() *AppError { return NotFound("Room") }, ErrCodeNotFound},
		{"AlreadyExists", func() *AppError { return AlreadyExists("Room") }, ErrCodeAlreadyExists},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("title", "empty") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("title") }, ErrCodeMissingRequired},
		{"RoomNotLive", func() *AppError { return RoomNotLive() }, ErrCodeRoomNotLive},
		{"Credential", func() *AppError { return Credential(errors.New("x")) }, ErrCodeCredential},
		{"Connection", func() *AppError { return Connection(errors.New("x")) }, ErrCodeConnection},
		{"PeerNotPresent", func() *AppError { return PeerNotPresent("peer-1") }, ErrCodePeerNotPresent},
		{"PermissionDenied", func() *AppError { return PermissionDenied("mic") }, ErrCodePermissionDenied},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
		{"Store", func() *AppError { return Store(errors.New("x")) }, ErrCodeStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor()
			assert.Equal(t, tt.expectedCode, err.Code)
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Run("IsAppError detects AppError", func(t *testing.T) {
		assert.True(t, IsAppError(NotFound("Room")))
		assert.False(t, IsAppError(errors.New("plain")))
	})

	t.Run("AsAppError unwraps nested AppError", func(t *testing.T) {
		inner := PeerNotPresent("peer-1")
		wrapped := fmt.Errorf("approve: %w", inner)
		appErr, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, ErrCodePeerNotPresent, appErr.Code)
	})

	t.Run("GetCode falls back to internal", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
		assert.Equal(t, ErrCodeStore, GetCode(Store(errors.New("x"))))
	})

	t.Run("HasCode matches wrapped errors", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", PeerNotPresent("peer-1"))
		assert.True(t, HasCode(err, ErrCodePeerNotPresent))
		assert.False(t, HasCode(err, ErrCodeNotFound))
	})
}
