// Package apierror defines the error kinds shared by every engine component.
// Kinds are sentinel values; callers attach context by wrapping with
// fmt.Errorf("...: %w", apierror.ErrAccessDenied) and classify with
// errors.Is. Transport layers map kinds to their own status codes.
package apierror

import "errors"

var (
	// ErrNotAuthenticated indicates the caller's credential is missing or
	// stale and reauthentication is required.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAccessDenied indicates the caller is authenticated but not allowed
	// to perform the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound indicates the referenced resource does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the operation would create something that is
	// already present, e.g. a temporary binding written by an earlier
	// approval.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request that is malformed regardless of
	// system state.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates a concurrent-modification conflict that persisted
	// through retries.
	ErrConflict = errors.New("conflict")

	// ErrTokenInvalid indicates an activation token that failed signature,
	// issuer, audience, or expiry checks.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTransient indicates a temporary upstream failure; the operation may
	// be retried as-is.
	ErrTransient = errors.New("transient failure")
)
