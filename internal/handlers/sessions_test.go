package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/bridge"
	"github.com/yangjarod117/webssh/internal/sshsession"
)

func TestCreateSession_Success(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "GET", "/api/v1/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusOK)
	var info sshsession.Info
	decode(t, body, &info)
	if info.ID != id || info.Status != sshsession.StatusConnected || info.Port != 22 {
		t.Errorf("info = %+v", info)
	}

	resp, body = env.do(t, "GET", "/api/v1/sessions", nil)
	expectStatus(t, resp, body, http.StatusOK)
	var list struct {
		Sessions []sshsession.Info `json:"sessions"`
	}
	decode(t, body, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != id {
		t.Errorf("sessions = %+v", list.Sessions)
	}

	res, err := Auditor.Query(audit.QueryOptions{EventType: audit.EventSessionCreated})
	if err != nil || res.Total != 1 {
		t.Errorf("expected one session_created audit entry, got %v (err %v)", res, err)
	}
}

func TestCreateSession_ErrorMapping(t *testing.T) {
	env := setupHandlers(t)

	tests := []struct {
		name    string
		dialErr error
		body    map[string]interface{}
		want    int
	}{
		{"missing host", nil, map[string]interface{}{"username": "u", "password": "p"}, http.StatusBadRequest},
		{"missing password", nil, map[string]interface{}{"host": "h0", "username": "u"}, http.StatusBadRequest},
		{"bad auth type", nil, map[string]interface{}{"host": "h0", "username": "u", "auth_type": "otp"}, http.StatusBadRequest},
		{"auth rejected", sshsession.ErrAuthenticationFailed, map[string]interface{}{"host": "h1", "username": "u", "password": "p"}, http.StatusUnauthorized},
		{"unreachable", sshsession.ErrConnectFailed, map[string]interface{}{"host": "h2", "username": "u", "password": "p"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.dialer.Err = tt.dialErr
			resp, body := env.do(t, "POST", "/api/v1/sessions", tt.body)
			expectStatus(t, resp, body, tt.want)
			var out map[string]string
			decode(t, body, &out)
			if out["detail"] == "" {
				t.Errorf("missing detail in %s", body)
			}
		})
	}
	env.dialer.Err = nil

	if n := env.mgr.SessionCount(); n != 0 {
		t.Errorf("failed attempts must not register sessions, have %d", n)
	}
	res, _ := Auditor.Query(audit.QueryOptions{EventType: audit.EventConnectionFailed})
	if res.Total != 5 {
		t.Errorf("connection_failed entries = %d, want 5", res.Total)
	}
}

func TestCreateSession_RateLimited(t *testing.T) {
	env := setupHandlers(t)
	env.dialer.Err = sshsession.ErrAuthenticationFailed
	body := map[string]interface{}{"host": "locked.example", "username": "u", "password": "wrong"}

	for i := 0; i < sshsession.DefaultMaxConsecFailures; i++ {
		resp, data := env.do(t, "POST", "/api/v1/sessions", body)
		expectStatus(t, resp, data, http.StatusUnauthorized)
	}
	env.dialer.Err = nil
	resp, data := env.do(t, "POST", "/api/v1/sessions", body)
	expectStatus(t, resp, data, http.StatusTooManyRequests)
}

func TestCreateSession_InvalidBody(t *testing.T) {
	env := setupHandlers(t)
	req, _ := http.NewRequest("POST", env.srv.URL+"/api/v1/sessions", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateSession_SaveAndReuseStoredCredential(t *testing.T) {
	env := setupHandlers(t)

	resp, body := env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"host": "saved.example", "port": 2222, "username": "ops", "password": "hunter2",
		"save": true, "name": "Prod box",
	})
	expectStatus(t, resp, body, http.StatusCreated)
	var created struct {
		SessionID    string `json:"session_id"`
		ConnectionID string `json:"connection_id"`
	}
	decode(t, body, &created)
	if created.ConnectionID == "" {
		t.Fatal("save=true should return a connection id")
	}

	resp, body = env.do(t, "GET", "/api/v1/connections/"+created.ConnectionID, nil)
	expectStatus(t, resp, body, http.StatusOK)
	var conn struct {
		Name           string `json:"name"`
		Port           int    `json:"port"`
		HasCredentials bool   `json:"has_credentials"`
	}
	decode(t, body, &conn)
	if conn.Name != "Prod box" || conn.Port != 2222 || !conn.HasCredentials {
		t.Errorf("saved connection = %+v", conn)
	}
	if strings.Contains(string(body), "hunter2") {
		t.Error("connection response must not contain secrets")
	}

	// Only the id: host, user and password come from the vault.
	resp, body = env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"connection_id": created.ConnectionID,
	})
	expectStatus(t, resp, body, http.StatusCreated)
	var reused struct {
		SessionID    string `json:"session_id"`
		ConnectionID string `json:"connection_id"`
	}
	decode(t, body, &reused)
	s, ok := env.mgr.GetSession(reused.SessionID)
	if !ok {
		t.Fatal("reused session not registered")
	}
	if s.Host != "saved.example" || s.Port != 2222 || s.Username != "ops" || s.ConnectionID != created.ConnectionID {
		t.Errorf("reused session = %s@%s:%d conn=%s", s.Username, s.Host, s.Port, s.ConnectionID)
	}

	saved, err := Vault.GetConnection(created.ConnectionID)
	if err != nil || saved.LastUsedAt == nil {
		t.Errorf("reuse should touch the connection: %+v (err %v)", saved, err)
	}
}

func TestCreateSession_UnknownConnection(t *testing.T) {
	env := setupHandlers(t)
	resp, body := env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{"connection_id": "nope"})
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestCloseSession_Idempotent(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	for i := 0; i < 2; i++ {
		resp, body := env.do(t, "DELETE", "/api/v1/sessions/"+id, nil)
		expectStatus(t, resp, body, http.StatusOK)
	}
	resp, body := env.do(t, "GET", "/api/v1/sessions/"+id, nil)
	expectStatus(t, resp, body, http.StatusNotFound)

	res, _ := Auditor.Query(audit.QueryOptions{SessionID: id, EventType: audit.EventSessionClosed})
	if res.Total != 1 {
		t.Errorf("session_closed entries = %d, want 1", res.Total)
	}
}

func TestDisconnectBeacon(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "POST", "/api/v1/sessions/"+id+"/disconnect", nil)
	expectStatus(t, resp, body, http.StatusNoContent)
	if _, ok := env.mgr.GetSession(id); ok {
		t.Error("beacon should close the session")
	}

	resp, body = env.do(t, "POST", "/api/v1/sessions/unknown/disconnect", nil)
	expectStatus(t, resp, body, http.StatusNoContent)
}

func TestGetSessionEvents(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "GET", "/api/v1/sessions/"+id+"/events", nil)
	expectStatus(t, resp, body, http.StatusOK)
	var out struct {
		Events      []sshsession.Event            `json:"events"`
		Transitions []sshsession.StatusTransition `json:"transitions"`
	}
	decode(t, body, &out)
	if len(out.Events) == 0 || out.Events[0].Type != sshsession.EventConnected {
		t.Errorf("events = %+v", out.Events)
	}
	if len(out.Transitions) == 0 {
		t.Error("expected at least one status transition")
	}
}

func TestTerminalWebSocket(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/sessions/" + id + "/terminal?cols=90&rows=30"
	c, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial terminal: %v", err)
	}
	defer c.CloseNow()

	var msg bridge.ServerMessage
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		t.Fatalf("read session_info: %v", err)
	}
	if msg.Type != bridge.TypeSessionInfo || msg.SessionID != id {
		t.Errorf("greeting = %+v", msg)
	}

	res, _ := Auditor.Query(audit.QueryOptions{SessionID: id, EventType: audit.EventTerminalAttached})
	if res.Total != 1 {
		t.Errorf("terminal_attached entries = %d, want 1", res.Total)
	}

	c.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := env.mgr.GetSession(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("closing the terminal should close the session")
}

func TestTerminalWebSocket_UnknownSession(t *testing.T) {
	env := setupHandlers(t)
	resp, body := env.do(t, "GET", "/api/v1/sessions/missing/terminal", nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestCreateSession_StoredCredentialBoundToTarget(t *testing.T) {
	env := setupHandlers(t)

	resp, body := env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"host": "saved.example", "username": "ops", "password": "hunter2", "save": true,
	})
	expectStatus(t, resp, body, http.StatusCreated)
	var created struct {
		ConnectionID string `json:"connection_id"`
	}
	decode(t, body, &created)
	dials := env.dialer.Dials.Load()

	for _, override := range []map[string]interface{}{
		{"host": "attacker.example"},
		{"username": "root"},
		{"port": 2200},
	} {
		req := map[string]interface{}{"connection_id": created.ConnectionID}
		for k, v := range override {
			req[k] = v
		}
		resp, body := env.do(t, "POST", "/api/v1/sessions", req)
		expectStatus(t, resp, body, http.StatusBadRequest)
	}
	if n := env.dialer.Dials.Load(); n != dials {
		t.Errorf("stored secrets must not be sent to another target: %d extra dials", n-dials)
	}

	// Bringing your own secrets to another host is fine.
	resp, body = env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"connection_id": created.ConnectionID, "host": "other.example", "password": "mine",
	})
	expectStatus(t, resp, body, http.StatusCreated)
}
