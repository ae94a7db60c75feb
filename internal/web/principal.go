package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
)

// The identity-aware proxy asserts the authenticated user in this header,
// prefixed with the identity provider.
const (
	principalHeader       = "X-Goog-Authenticated-User-Email"
	principalHeaderPrefix = "accounts.google.com:"
)

type ctxKey string

const principalKey ctxKey = "principal"

// WithPrincipal returns a context carrying the authenticated user.
func WithPrincipal(ctx context.Context, user auth.UserID) context.Context {
	return context.WithValue(ctx, principalKey, user)
}

// Principal returns the authenticated user the request was made as.
func Principal(ctx context.Context) (auth.UserID, bool) {
	user, ok := ctx.Value(principalKey).(auth.UserID)
	return user, ok
}

// RequirePrincipal reads the proxy-asserted principal and threads it through
// the request context. Requests without one are rejected; the facade never
// authenticates on its own.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimPrefix(r.Header.Get(principalHeader), principalHeaderPrefix)
		if email == "" {
			writeError(r.Context(), w,
				fmt.Errorf("the request lacks an authenticated principal: %w", apierror.ErrNotAuthenticated))
			return
		}

		ctx := WithPrincipal(r.Context(), auth.UserID{Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
