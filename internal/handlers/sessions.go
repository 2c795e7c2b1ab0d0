package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/middleware"
	"github.com/yangjarod117/webssh/internal/sshsession"
	"github.com/yangjarod117/webssh/internal/vault"
)

type createSessionRequest struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	AuthType     string `json:"auth_type"`
	Password     string `json:"password"`
	PrivateKey   string `json:"private_key"`
	Passphrase   string `json:"passphrase"`
	ConnectionID string `json:"connection_id"`
	Save         bool   `json:"save"`
	Name         string `json:"name"`
}

func (req *createSessionRequest) hasSecrets() bool {
	return req.Password != "" || req.PrivateKey != ""
}

// resolveSaved fills the request from a saved connection and its stored
// credential. Explicit request fields win, but stored secrets are only used
// for the exact target they were saved for.
func (req *createSessionRequest) resolveSaved() error {
	conn, err := Vault.GetConnection(req.ConnectionID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) && req.Host != "" {
			return nil
		}
		return err
	}
	if req.Host == "" {
		req.Host = conn.Host
		if req.Port == 0 {
			req.Port = conn.Port
		}
	}
	if req.Username == "" {
		req.Username = conn.Username
	}
	if req.AuthType == "" {
		req.AuthType = conn.AuthType
	}
	if req.Name == "" {
		req.Name = conn.Name
	}
	if req.hasSecrets() {
		return nil
	}
	if cred, ok := Vault.Get(req.ConnectionID); ok {
		if !cred.Matches(req.Host, req.Port, req.Username) {
			return fmt.Errorf("%w: stored credentials for connection %s cannot be used for %s@%s",
				sshsession.ErrInvalidParams, req.ConnectionID, req.Username, req.Host)
		}
		req.Password = cred.Password
		req.PrivateKey = cred.PrivateKey
		req.Passphrase = cred.Passphrase
		if req.AuthType == "" {
			req.AuthType = cred.AuthType
		}
	}
	return nil
}

func CreateSession(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ConnectionID != "" && Vault != nil {
		if err := req.resolveSaved(); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Save && req.ConnectionID == "" {
		req.ConnectionID = uuid.NewString()
	}

	params := sshsession.Params{
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		AuthType:     req.AuthType,
		Password:     req.Password,
		PrivateKey:   req.PrivateKey,
		Passphrase:   req.Passphrase,
		ConnectionID: req.ConnectionID,
	}
	sourceIP := audit.SourceIP(r)

	s, err := SessionMgr.CreateSession(r.Context(), params)
	if err != nil {
		Auditor.LogConnectionFailed(params, sourceIP, err)
		writeServiceError(w, err)
		return
	}
	Auditor.LogSessionCreated(s, sourceIP)

	if req.Save && Vault != nil {
		saveConnection(req, s)
	} else if req.ConnectionID != "" && Vault != nil {
		if err := Vault.TouchConnection(req.ConnectionID); err != nil && !errors.Is(err, vault.ErrNotFound) {
			log.Printf("[api] touch connection %s: %v", logutil.SanitizeForLog(req.ConnectionID), err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":    s.ID,
		"status":        s.Status(),
		"connection_id": s.ConnectionID,
	})
}

// saveConnection stores the connection behind a freshly created session.
// Failures are logged; the session itself is already usable.
func saveConnection(req createSessionRequest, s *sshsession.Session) {
	if req.hasSecrets() {
		err := Vault.Save(req.ConnectionID, vault.Config{
			Host:       s.Host,
			Port:       s.Port,
			Username:   s.Username,
			AuthType:   s.AuthType,
			Password:   req.Password,
			PrivateKey: req.PrivateKey,
			Passphrase: req.Passphrase,
		})
		if err != nil {
			log.Printf("[api] save credential %s: %v", logutil.SanitizeForLog(req.ConnectionID), err)
			return
		}
		Auditor.Log(audit.Entry{
			SessionID: s.ID,
			EventType: audit.EventCredentialSaved,
			Username:  s.Username,
			Host:      s.Host,
			Details:   "connection=" + req.ConnectionID,
		})
	}

	conn := vault.Connection{
		ID:       req.ConnectionID,
		Name:     req.Name,
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		AuthType: s.AuthType,
	}
	if err := Vault.SaveConnection(conn); err != nil {
		log.Printf("[api] save connection %s: %v", logutil.SanitizeForLog(req.ConnectionID), err)
	}
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": SessionMgr.ListSessions(),
	})
}

func GetSession(w http.ResponseWriter, r *http.Request) {
	s := middleware.GetSession(r)
	writeJSON(w, http.StatusOK, s.Info())
}

func GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	s := middleware.GetSession(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  s.ID,
		"events":      s.Events(),
		"transitions": s.Transitions(),
	})
}

// CloseSession closes a session. Closing an unknown or already closed
// session succeeds.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}
	SessionMgr.CloseSession(chi.URLParam(r, "sessionId"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// DisconnectBeacon is the page-close signal sent with navigator.sendBeacon.
// It always answers 204.
func DisconnectBeacon(w http.ResponseWriter, r *http.Request) {
	if SessionMgr != nil {
		SessionMgr.CloseSession(chi.URLParam(r, "sessionId"))
	}
	w.WriteHeader(http.StatusNoContent)
}
