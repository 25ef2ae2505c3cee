package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the authenticated caller, set by the auth gateway in
// front of the engine.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// Identity copies the caller id from UserIDHeader into the request context.
// Requests without it pass through anonymous; handlers that need a caller
// reject them.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID returns ctx carrying id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the caller id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
