// Package identity provides anonymous per-browser identity primitives.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/google/uuid"
)

const (
	// SessionCookieName holds the anonymous user id; it is also forwarded
	// to the sessions API as the ChatKit user.
	SessionCookieName = "chatkit_session_id"
	sessionCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID. Used by tests and by
// callers that resolve identity outside the middleware.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func isValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// SessionCookie builds the identity cookie. Secure is set outside development.
func SessionCookie(userID string, isDev bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(sessionCookieAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	}
}

// ResolveUserID returns the cookie's user id, or mints a new UUID and sets
// the cookie on w.
func ResolveUserID(w http.ResponseWriter, r *http.Request, isDev bool) (string, bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && isValidUserID(c.Value) {
		return c.Value, false
	}

	id := uuid.NewString()
	http.SetCookie(w, SessionCookie(id, isDev))
	return id, true
}

func ensureUser(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:      userID,
		ColorScheme: domain.PreferenceSystem,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Middleware injects the anonymous user id into the request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := ResolveUserID(w, r, isDev)

			if err := ensureUser(r.Context(), repo, userID); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
