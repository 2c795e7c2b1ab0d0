package handlers

import (
	"net/http"
	"strconv"

	"github.com/yangjarod117/webssh/internal/logging"
)

const maxLogLines = 5000

// GetServerLogs returns the tail of the server log. lines bounds the count
// (default 200); session_id keeps only that session's lines.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = min(n, maxLogLines)
		}
	}

	sessionID := r.URL.Query().Get("session_id")
	entries, err := logging.ReadTail(lines, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines": entries,
		"count": len(entries),
	})
}
