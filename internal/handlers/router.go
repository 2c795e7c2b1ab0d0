package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/yangjarod117/webssh/internal/middleware"
)

// NewRouter builds the HTTP API over the package-level services. Set them
// before calling.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", CreateSession)
		r.Get("/sessions", ListSessions)
		r.Delete("/sessions/{sessionId}", CloseSession)
		r.Post("/sessions/{sessionId}/disconnect", DisconnectBeacon)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(SessionMgr))

			r.Get("/sessions/{sessionId}", GetSession)
			r.Get("/sessions/{sessionId}/events", GetSessionEvents)
			r.Get("/sessions/{sessionId}/terminal", TerminalWS)

			r.Get("/sessions/{sessionId}/files", ListFiles)
			r.Get("/sessions/{sessionId}/files/stat", StatFile)
			r.Get("/sessions/{sessionId}/files/exists", FileExists)
			r.Get("/sessions/{sessionId}/files/read", ReadFileContent)
			r.Put("/sessions/{sessionId}/files/write", WriteFileContent)
			r.Post("/sessions/{sessionId}/files/create", CreateEntry)
			r.Post("/sessions/{sessionId}/files/rename", RenameEntry)
			r.Delete("/sessions/{sessionId}/files", DeleteEntry)
			r.Get("/sessions/{sessionId}/files/download", DownloadFile)
			r.Post("/sessions/{sessionId}/files/upload", UploadFile)
		})

		r.Get("/connections", ListConnections)
		r.Post("/connections", CreateConnection)
		r.Get("/connections/{connId}", GetConnection)
		r.Delete("/connections/{connId}", DeleteConnection)

		r.Get("/audit", GetAuditLogs)
		r.Get("/server/logs", GetServerLogs)
	})

	return r
}
