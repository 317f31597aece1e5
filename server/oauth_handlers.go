package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/snowflake-admin-console/oauth"
)

// LoginHandler starts the authorization-code flow: issues a fresh CSRF
// state and redirects the browser to the identity provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.exchanger.BeginLogin(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("could not begin login")
			writeJSONError(w, "server_error", "OAuth is not configured", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow. The state is consumed exactly once;
// replays and unknown states are rejected before any token request is made.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if idpError := query.Get("error"); idpError != "" {
			description := query.Get("error_description")
			log.Warn().Str("error", idpError).Str("description", description).Msg("identity provider returned an error")
			writeJSONError(w, idpError, description, http.StatusBadRequest)
			return
		}

		tokens, err := s.exchanger.CompleteLogin(r.Context(), query.Get("code"), query.Get("state"))
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, oauth.ExchangeFailedErr):
				status = http.StatusBadGateway
			case errors.Is(err, oauth.ConfigErr):
				status = http.StatusInternalServerError
			}
			log.Warn().Err(err).Msg("login could not be completed")
			writeJSONError(w, "invalid_request", err.Error(), status)
			return
		}

		sessionID := uuid.New().String()
		if err := s.sessions.StoreTokens(sessionID, tokens); err != nil {
			writeJSONError(w, "server_error", "Failed to create session", http.StatusInternalServerError)
			return
		}
		if err := s.sessions.Touch(sessionID); err != nil {
			log.Error().Err(err).Msg("could not stamp session activity")
			writeJSONError(w, "server_error", "Failed to create session", http.StatusInternalServerError)
			return
		}

		s.SetSessionCookie(w, r, sessionID)
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// LogoutHandler drops the server-side session and expires the cookie.
// Logging out an already logged-out browser succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID := sessionIDFromRequest(r); sessionID != "" {
			_ = s.sessions.Clear(sessionID)
		}
		s.ClearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// SessionHandler reports whether the browser currently holds a live
// session, without touching activity or refreshing tokens eagerly.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionIDFromRequest(r)
		authenticated := sessionID != "" && s.sessions.Authenticated(r.Context(), sessionID)
		writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
	}
}
