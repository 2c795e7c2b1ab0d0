package sshsession

import (
	"log"
	"time"

	"github.com/yangjarod117/webssh/internal/logutil"
)

// EventType identifies a session event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventError             EventType = "error"
	EventShellOpened       EventType = "shell_opened"
	EventFileChannelOpened EventType = "file_channel_opened"
	EventKeepaliveFailed   EventType = "keepalive_failed"
	EventFileChannelLost   EventType = "file_channel_lost"
)

// Event is one entry in a session's event history.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Manager) emitEvent(s *Session, eventType EventType, details string) {
	s.addEvent(Event{
		SessionID: s.ID,
		Type:      eventType,
		Details:   details,
		Timestamp: m.nowFn(),
	})
	log.Printf("[session] event %s/%s: %s", s.ID, eventType, logutil.SanitizeForLog(details))
}
