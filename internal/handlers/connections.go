package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/sshsession"
	"github.com/yangjarod117/webssh/internal/vault"
)

type connectionRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthType   string `json:"auth_type"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

func vaultReady(w http.ResponseWriter) bool {
	if Vault == nil {
		writeError(w, http.StatusServiceUnavailable, "Credential vault not initialized")
		return false
	}
	return true
}

func ListConnections(w http.ResponseWriter, r *http.Request) {
	if !vaultReady(w) {
		return
	}
	conns, err := Vault.ListConnections()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": conns})
}

// CreateConnection saves connection metadata and, when secrets are given,
// the encrypted credential. Posting an existing id overwrites it; moving a
// connection with stored secrets to another target requires new secrets.
func CreateConnection(w http.ResponseWriter, r *http.Request) {
	if !vaultReady(w) {
		return
	}
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "host and username are required")
		return
	}
	switch req.AuthType {
	case "", sshsession.AuthPassword, sshsession.AuthKey:
	default:
		writeError(w, http.StatusBadRequest, "auth_type must be password or key")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	// Credential first: SaveConnection rejects a target its stored credential
	// does not match.
	if req.Password != "" || req.PrivateKey != "" {
		err := Vault.Save(req.ID, vault.Config{
			Host:       req.Host,
			Port:       req.Port,
			Username:   req.Username,
			AuthType:   req.AuthType,
			Password:   req.Password,
			PrivateKey: req.PrivateKey,
			Passphrase: req.Passphrase,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		Auditor.Log(audit.Entry{
			EventType: audit.EventCredentialSaved,
			Username:  req.Username,
			Host:      req.Host,
			SourceIP:  audit.SourceIP(r),
			Details:   "connection=" + req.ID,
		})
	}
	err := Vault.SaveConnection(vault.Connection{
		ID:       req.ID,
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		AuthType: req.AuthType,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := Vault.GetConnection(req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func GetConnection(w http.ResponseWriter, r *http.Request) {
	if !vaultReady(w) {
		return
	}
	conn, err := Vault.GetConnection(chi.URLParam(r, "connId"))
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// DeleteConnection removes a saved connection and its stored credential.
func DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if !vaultReady(w) {
		return
	}
	id := chi.URLParam(r, "connId")
	if err := Vault.DeleteConnection(id); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		writeServiceError(w, err)
		return
	}
	Auditor.Log(audit.Entry{
		EventType: audit.EventConnectionDeleted,
		SourceIP:  audit.SourceIP(r),
		Details:   "connection=" + id,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
