package server

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/jrsteele09/snowflake-admin-console/session"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySessionID stores the authenticated session ID
const ContextKeySessionID ContextKey = "session_id"

// RequireSession gates API routes on a live, recently active session. The
// inactivity check and activity touch happen before the handler runs, so a
// timed-out session is cleared without any warehouse work being done.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r)

			err := s.gate.Authorize(r.Context(), sessionID, func(ctx context.Context) error {
				ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
				next(w, r.WithContext(ctx))
				return nil
			})
			if err != nil {
				writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
				return
			}
		}
	}
}

// requestSessionID returns the session ID the middleware stored on the
// request context.
func requestSessionID(r *http.Request) string {
	sessionID, _ := r.Context().Value(ContextKeySessionID).(string)
	return sessionID
}

func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func isAuthError(err error) bool {
	return errors.Is(err, session.NotAuthenticatedErr) || errors.Is(err, session.SessionInactiveErr)
}
