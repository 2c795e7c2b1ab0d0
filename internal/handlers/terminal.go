package handlers

import (
	"net/http"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/middleware"
)

// TerminalWS attaches a WebSocket to the session's interactive shell.
//
// Query parameters:
//   - cols, rows: initial PTY size (default 80x24, clamped to 500x200).
//
// Only one terminal may be attached to a session; a second attach is closed
// with code 4409. When the socket closes the session is closed too.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	if Terminal == nil {
		writeError(w, http.StatusServiceUnavailable, "Terminal bridge not initialized")
		return
	}
	s := middleware.GetSession(r)
	Auditor.LogTerminalAttached(s, audit.SourceIP(r))
	Terminal.Serve(w, r, s.ID)
}
