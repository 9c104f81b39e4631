package platformerrors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsErrorKeepsTypeAndCode(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	inner := NewError(ctx, LayerDomain, ErrorTypeUnavailable, "locked", nil, "uuid-1").WithCode("lock_unavailable")

	wrapped := AsError(ctx, LayerHandler, inner, "upload")
	assert.Equal(t, ErrorTypeUnavailable, wrapped.Type)
	assert.Equal(t, "lock_unavailable", wrapped.Code)
	assert.Equal(t, "req-1", wrapped.RequestID)
	assert.True(t, HasCode(wrapped, "lock_unavailable"))
	assert.True(t, errors.Is(wrapped, inner))
	assert.True(t, wrapped.Retryable())
}

func TestAsErrorWrapsPlainErrors(t *testing.T) {
	assert.Nil(t, AsError(context.Background(), LayerDomain, nil, "noop"))

	plain := errors.New("disk full")
	wrapped := AsError(context.Background(), LayerDomain, plain, "write")
	assert.Equal(t, ErrorTypeInternal, wrapped.Type)
	assert.False(t, wrapped.Retryable())
	assert.ErrorIs(t, wrapped, plain)
}

func TestErrorTypeToHTTPStatus(t *testing.T) {
	cases := map[ErrorType]int{
		ErrorTypeValidation:    http.StatusBadRequest,
		ErrorTypeForbidden:     http.StatusForbidden,
		ErrorTypeNotFound:      http.StatusNotFound,
		ErrorTypeUnavailable:   http.StatusServiceUnavailable,
		ErrorTypeExternal:      http.StatusBadGateway,
		ErrorTypeDatabaseError: http.StatusInternalServerError,
	}
	for errorType, status := range cases {
		assert.Equal(t, status, ErrorTypeToHTTPStatus(errorType), errorType)
	}
}
