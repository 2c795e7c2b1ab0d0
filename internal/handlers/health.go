package handlers

import (
	"net/http"

	"github.com/yangjarod117/webssh/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		if err := database.Ping(); err == nil {
			dbStatus = "connected"
		}
	}

	sessions := 0
	if SessionMgr != nil {
		sessions = SessionMgr.SessionCount()
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"sessions": sessions,
	})
}
