package httpx

import (
	"context"
	"net/http"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Caller is the identity an upstream gateway asserted for the request.
type Caller struct {
	UserID string
	Admin  bool
}

type callerKey struct{}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Identity rejects requests without a user header.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(HeaderUserID)
		if uid == "" {
			writeMsg(w, http.StatusUnauthorized, "missing "+HeaderUserID)
			return
		}
		c := Caller{UserID: uid, Admin: r.Header.Get(HeaderUserRole) == "admin"}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// RequireAdmin must run after Identity.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := CallerFrom(r.Context()); !ok || !c.Admin {
			writeMsg(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// canSee hides other users' orders behind a 404.
func (c Caller) canSee(ownerID string) bool { return c.Admin || c.UserID == ownerID }
