package middleware

import (
	"context"
	"net/http"

	"github.com/yangjarod117/webssh/internal/sshsession"
)

// WithSessionForTest attaches a Session to the request context for testing.
func WithSessionForTest(r *http.Request, s *sshsession.Session) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionContextKey, s))
}
