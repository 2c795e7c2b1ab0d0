package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yangjarod117/webssh/internal/audit"
)

// GetAuditLogs returns audit entries, newest first.
//
// Query parameters: session_id, event_type, username, since and until
// (RFC 3339), limit (default 50, max 1000), offset.
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log not initialized")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
		Username:  q.Get("username"),
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name+" parameter, expected RFC 3339")
			return
		}
		*dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		opts.Offset = n
	}

	result, err := Auditor.Query(opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
