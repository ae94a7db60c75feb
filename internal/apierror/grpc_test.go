package apierror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFromGRPCMapsCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.Unauthenticated, ErrNotAuthenticated},
		{codes.PermissionDenied, ErrAccessDenied},
		{codes.NotFound, ErrNotFound},
		{codes.AlreadyExists, ErrAlreadyExists},
		{codes.InvalidArgument, ErrInvalidArgument},
		{codes.Aborted, ErrConflict},
		{codes.FailedPrecondition, ErrConflict},
		{codes.Unavailable, ErrTransient},
		{codes.DeadlineExceeded, ErrTransient},
		{codes.ResourceExhausted, ErrTransient},
	}
	for _, tc := range tests {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := FromGRPC(status.Error(tc.code, "upstream said no"))
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorContains(t, err, "upstream said no")
		})
	}
}

func TestFromGRPCUnwrapsNestedStatus(t *testing.T) {
	wrapped := fmt.Errorf("analyzing policy: %w", status.Error(codes.PermissionDenied, "caller lacks permission"))
	assert.ErrorIs(t, FromGRPC(wrapped), ErrAccessDenied)
}

func TestFromGRPCPassesUnmappedErrorsThrough(t *testing.T) {
	assert.NoError(t, FromGRPC(nil))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, FromGRPC(plain))

	internal := status.Error(codes.Internal, "bug")
	assert.Equal(t, internal, FromGRPC(internal))
}
