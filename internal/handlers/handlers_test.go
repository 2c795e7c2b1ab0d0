package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/gorm/logger"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/bridge"
	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/remotefs"
	"github.com/yangjarod117/webssh/internal/sshsession"
	"github.com/yangjarod117/webssh/internal/transfer"
	"github.com/yangjarod117/webssh/internal/vault"
)

const testKeyHex = "6b6579206b6579206b6579206b6579206b6579206b6579206b65792031323334"

type testEnv struct {
	srv    *httptest.Server
	dialer *sshsession.MemoryDialer
	mgr    *sshsession.Manager
}

// setupHandlers wires every package-level service against in-memory
// backends and serves NewRouter.
func setupHandlers(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	prevDB := database.DB
	database.DB = db

	cipher, err := vault.NewCipher(testKeyHex, nil)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	d := &sshsession.MemoryDialer{}
	m := sshsession.NewManager(d, sshsession.Config{RateLimit: sshsession.DefaultRateLimitConfig()})
	a := audit.New(db, 30)
	m.OnStatusChange(a.StatusHook())

	SessionMgr = m
	FS = remotefs.New(m)
	Transfers = transfer.New(m)
	Vault = vault.New(db, cipher)
	Terminal = bridge.New(m, bridge.Options{})
	Auditor = a

	srv := httptest.NewServer(NewRouter())
	t.Cleanup(func() {
		srv.Close()
		m.Shutdown(context.Background())
		SessionMgr, FS, Transfers, Vault, Terminal, Auditor = nil, nil, nil, nil, nil, nil
		database.DB = prevDB
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testEnv{srv: srv, dialer: d, mgr: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status = %d, want %d; body: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"host": "example.com", "username": "tester", "password": "secret",
	})
	expectStatus(t, resp, body, http.StatusCreated)
	var out struct {
		SessionID string `json:"session_id"`
	}
	decode(t, body, &out)
	return out.SessionID
}

func TestHealthCheck(t *testing.T) {
	env := setupHandlers(t)
	env.createSession(t)

	resp, body := env.do(t, "GET", "/health", nil)
	expectStatus(t, resp, body, http.StatusOK)
	var out map[string]interface{}
	decode(t, body, &out)
	if out["status"] != "healthy" || out["database"] != "connected" {
		t.Errorf("health = %v", out)
	}
	if out["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", out["sessions"])
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: host is empty", sshsession.ErrInvalidParams), http.StatusBadRequest},
		{sshsession.ErrSessionNotFound, http.StatusNotFound},
		{vault.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("save connection c1: %w", vault.ErrTargetMismatch), http.StatusConflict},
		{fmt.Errorf("dial: %w", sshsession.ErrAuthenticationFailed), http.StatusUnauthorized},
		{sshsession.ErrRateLimited, http.StatusTooManyRequests},
		{sshsession.ErrConnectFailed, http.StatusBadGateway},
		{fmt.Errorf("%w: boom", sshsession.ErrChannelInit), http.StatusServiceUnavailable},
		{&remotefs.RemoteError{Op: "read", Path: "/x", Err: errors.New("no such file")}, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteServiceError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("database exploded at 0xdeadbeef"))
	var out map[string]string
	decode(t, rec.Body.Bytes(), &out)
	if out["detail"] != "Internal server error" {
		t.Errorf("detail = %q", out["detail"])
	}

	rec = httptest.NewRecorder()
	writeServiceError(rec, &remotefs.RemoteError{Op: "read", Path: "/x", Err: errors.New("permission denied")})
	decode(t, rec.Body.Bytes(), &out)
	if out["detail"] != "read /x: permission denied" {
		t.Errorf("remote detail = %q", out["detail"])
	}
}

func TestServerLogs(t *testing.T) {
	env := setupHandlers(t)
	resp, body := env.do(t, "GET", "/api/v1/server/logs?lines=10", nil)
	expectStatus(t, resp, body, http.StatusOK)
	var out struct {
		Lines []string `json:"lines"`
		Count int      `json:"count"`
	}
	decode(t, body, &out)
	if out.Lines == nil || out.Count != len(out.Lines) {
		t.Errorf("unexpected logs body: %s", body)
	}
}
