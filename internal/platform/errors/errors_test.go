package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("ID is required")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "ID is required", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "ID is required")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("actor not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"conflict", ConflictError("exists"), http.StatusConflict},
		{"too large", TooLargeError("body too large"), http.StatusRequestEntityTooLarge},
		{"misdirected", MisdirectedError("not owner", nil), http.StatusMisdirectedRequest},
		{"rate limited", RateLimitedError("slow down"), http.StatusTooManyRequests},
		{"internal", InternalError("boom", nil), http.StatusInternalServerError},
		{"external", ExternalError("peer down", nil), http.StatusBadGateway},
		{"unknown type", &Error{Type: "weird"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestInternalErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("redis connection refused")
	err := InternalError("failed to resolve actor", cause)

	assert.Equal(t, cause, err.Cause)
	assert.Contains(t, err.Error(), "failed to resolve actor")
	assert.Contains(t, err.Error(), "redis connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithField(t *testing.T) {
	err := ValidationError("invalid topic").
		WithField("topic", "proj-42").
		WithField("length", 300)

	assert.Equal(t, "proj-42", err.Context["topic"])
	assert.Equal(t, 300, err.Context["length"])

	resp := err.ToResponse()
	assert.Equal(t, "invalid topic", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "proj-42", resp.Context["topic"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "x"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := NotFoundError("gone")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		original := ValidationError("bad")
		wrapped := fmt.Errorf("handler: %w", original)
		assert.Same(t, original, AsStructuredError(wrapped))
	})

	t.Run("plain error", func(t *testing.T) {
		plain := errors.New("plain")
		got := AsStructuredError(plain)
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, plain)
	})
}
