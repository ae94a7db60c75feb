// Package auth holds the end-user identity model. Callers are asserted by an
// upstream identity-aware proxy; the engine only ever sees verified email
// addresses and IAM principal identifiers derived from them.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// UserID identifies an end user by their primary email address.
type UserID struct {
	Email string
}

func (u UserID) String() string {
	return u.Email
}

// PrincipalIdentifier returns the IAM principal form of the user, e.g.
// `user:alice@example.com`.
func (u UserID) PrincipalIdentifier() string {
	return "user:" + u.Email
}

// Kind is the principal kind prefix of an IAM member identifier.
type Kind string

const (
	UserKind           Kind = "user"
	ServiceAccountKind Kind = "serviceAccount"
	GroupKind          Kind = "group"
)

var ErrInvalidPrincipal = errors.New("invalid principal identifier")

// ParsePrincipal splits an IAM principal identifier of the form
// `<kind>:<id>`. Only user, serviceAccount, and group kinds are recognized.
func ParsePrincipal(principal string) (Kind, string, error) {
	prefix, id, ok := strings.Cut(principal, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}

	switch Kind(prefix) {
	case UserKind, ServiceAccountKind, GroupKind:
		return Kind(prefix), id, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind in %q", ErrInvalidPrincipal, principal)
	}
}

// UserFromPrincipal returns the user a `user:` principal refers to. Principals
// of any other kind, including malformed ones, report ok == false; eligibility
// and reviewer logic only ever considers end users.
func UserFromPrincipal(principal string) (UserID, bool) {
	kind, id, err := ParsePrincipal(principal)
	if err != nil || kind != UserKind {
		return UserID{}, false
	}
	return UserID{Email: id}, true
}
