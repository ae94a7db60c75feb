package apierror

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FromGRPC maps an error returned by a cloud API client onto the engine's
// error kinds. Errors that carry no gRPC status, and codes with no
// equivalent kind, pass through unchanged.
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}

	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch s.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w", s.Message(), ErrNotAuthenticated)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", s.Message(), ErrAccessDenied)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", s.Message(), ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", s.Message(), ErrAlreadyExists)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", s.Message(), ErrInvalidArgument)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", s.Message(), ErrConflict)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s: %w", s.Message(), ErrTransient)
	default:
		return err
	}
}
