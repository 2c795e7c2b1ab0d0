package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yangjarod117/webssh/internal/sshsession"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionLookup resolves a session id.
type SessionLookup interface {
	GetSession(id string) (*sshsession.Session, bool)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireSession resolves the {sessionId} URL parameter and rejects the
// request with 404 when no live session has that id.
func RequireSession(lookup SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "sessionId")
			if id == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Session ID required"})
				return
			}
			s, ok := lookup.GetSession(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session resolved by RequireSession, or nil.
func GetSession(r *http.Request) *sshsession.Session {
	s, _ := r.Context().Value(sessionContextKey).(*sshsession.Session)
	return s
}
