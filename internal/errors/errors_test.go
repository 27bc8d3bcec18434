package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/questarena/internal/errors"
)

func TestError_HTTPStatusCode(t *testing.T) {
	tests := map[errors.Code]int{
		errors.CodeInvalidArgument:     http.StatusBadRequest,
		errors.CodeNotFound:            http.StatusNotFound,
		errors.CodeAlreadyExists:       http.StatusConflict,
		errors.CodeAborted:             http.StatusConflict,
		errors.CodePermissionDenied:    http.StatusForbidden,
		errors.CodeFailedPrecondition:  http.StatusBadRequest,
		errors.CodeInternal:            http.StatusInternalServerError,
		errors.CodeUnauthenticated:     http.StatusUnauthorized,
		errors.Code(codes.Unavailable): http.StatusInternalServerError,
	}

	for code, want := range tests {
		t.Run(codes.Code(code).String(), func(t *testing.T) {
			assert.Equal(t, want, errors.New(code).HTTPStatusCode())
		})
	}
}

func TestConvert(t *testing.T) {
	cause := stderrors.New("connection reset")

	e := errors.Convert(fmt.Errorf("load session: %w", errors.New(errors.CodeNotFound, errors.WithMessagef("session %s not found", "s1"))))
	assert.Equal(t, errors.CodeNotFound, e.Code)
	assert.Equal(t, "session s1 not found", e.Message)

	e = errors.Convert(cause)
	assert.Equal(t, errors.CodeInternal, e.Code)
	assert.ErrorIs(t, e, cause, "the cause stays reachable")
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", errors.New(errors.CodeAborted))

	assert.True(t, errors.Is(err, errors.CodeAborted))
	assert.False(t, errors.Is(err, errors.CodeNotFound))
	assert.False(t, errors.Is(stderrors.New("plain"), errors.CodeInternal))
	assert.False(t, errors.Is(nil, errors.CodeInternal))
}

func TestError_GRPCStatus(t *testing.T) {
	err := errors.New(errors.CodePermissionDenied, errors.WithMessagef("player is banned"))

	s, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, s.Code())
	assert.Equal(t, "player is banned", s.Message())
}

func TestError_Error(t *testing.T) {
	err := errors.New(errors.CodeInternal, errors.WithMessagef("tick failed"), errors.WithCause(stderrors.New("db down")))
	assert.Equal(t, "code: 13, message: tick failed, err: db down", err.Error())
	assert.Equal(t, "code: 5, message: NotFound", errors.New(errors.CodeNotFound).Error())
}
