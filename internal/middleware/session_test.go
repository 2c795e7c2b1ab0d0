package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/yangjarod117/webssh/internal/sshsession"
)

func newTestManager(t *testing.T) *sshsession.Manager {
	t.Helper()
	m := sshsession.NewManager(&sshsession.MemoryDialer{}, sshsession.Config{RateLimit: sshsession.DefaultRateLimitConfig()})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func TestRequireSession(t *testing.T) {
	m := newTestManager(t)
	s, err := m.CreateSession(context.Background(), sshsession.Params{
		Host: "h", Username: "u", AuthType: sshsession.AuthPassword, Password: "p",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var seen *sshsession.Session
	r := chi.NewRouter()
	r.With(RequireSession(m)).Get("/sessions/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		seen = GetSession(r)
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/"+s.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen != s {
		t.Error("handler did not receive the resolved session")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestGetSession_Missing(t *testing.T) {
	if s := GetSession(httptest.NewRequest("GET", "/", nil)); s != nil {
		t.Error("expected nil session without middleware")
	}
	m := newTestManager(t)
	s, _ := m.CreateSession(context.Background(), sshsession.Params{
		Host: "h", Username: "u", AuthType: sshsession.AuthPassword, Password: "p",
	})
	r := WithSessionForTest(httptest.NewRequest("GET", "/", nil), s)
	if GetSession(r) != s {
		t.Error("WithSessionForTest should attach the session")
	}
}
