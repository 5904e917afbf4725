// Package auth holds the operator token guard and the helpers that carry the
// calling chat user through request contexts.
package auth

import (
	"context"
	"net/http"
	"strconv"
)

// UserIDHeader carries the chat user on query requests.
const UserIDHeader = "X-User-ID"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID stores the chat user ID in ctx.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the chat user ID from ctx, or 0 when absent.
func GetUserID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// UserFromHeader is middleware copying UserIDHeader into the request context.
// Missing or malformed headers leave the anonymous user 0.
func UserFromHeader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
		if err != nil {
			id = 0
		}
		next(w, r.WithContext(WithUserID(r.Context(), id)))
	}
}
