package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/bridge"
	"github.com/yangjarod117/webssh/internal/remotefs"
	"github.com/yangjarod117/webssh/internal/sshsession"
	"github.com/yangjarod117/webssh/internal/transfer"
	"github.com/yangjarod117/webssh/internal/vault"
)

// Set from main.go during init.
var (
	SessionMgr *sshsession.Manager
	FS         *remotefs.FS
	Transfers  *transfer.Engine
	Vault      *vault.Vault
	Terminal   *bridge.Bridge
	Auditor    *audit.Auditor
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusForError maps core errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, sshsession.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, sshsession.ErrSessionNotFound), errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrTargetMismatch):
		return http.StatusConflict
	case errors.Is(err, sshsession.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, sshsession.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, sshsession.ErrConnectFailed):
		return http.StatusBadGateway
	case errors.Is(err, sshsession.ErrChannelInit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err with the status statusForError picks.
// Remote failures carry their reason; unexpected errors are logged and
// reported generically.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError && !errors.Is(err, remotefs.ErrRemoteOperation) {
		log.Printf("[api] internal error: %v", err)
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}
