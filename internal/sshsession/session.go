package sshsession

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Auth kinds.
const (
	AuthPassword = "password"
	AuthKey      = "key"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Params describes how to reach and authenticate against a remote host.
type Params struct {
	Host         string
	Port         int
	Username     string
	AuthType     string
	Password     string
	PrivateKey   string
	Passphrase   string
	ConnectionID string // saved connection the params were resolved from, if any
}

// Validate fills defaults and rejects unusable parameters.
func (p *Params) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidParams)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: username is empty", ErrInvalidParams)
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidParams, p.Port)
	}
	if p.AuthType == "" {
		p.AuthType = AuthPassword
	}
	switch p.AuthType {
	case AuthPassword:
		if p.Password == "" {
			return fmt.Errorf("%w: password is empty", ErrInvalidParams)
		}
	case AuthKey:
		if p.PrivateKey == "" {
			return fmt.Errorf("%w: private key is empty", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown auth type %q", ErrInvalidParams, p.AuthType)
	}
	return nil
}

// Addr returns host:port.
func (p Params) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Target returns user@host:port, the key used for rate limiting.
func (p Params) Target() string {
	return p.Username + "@" + p.Addr()
}

// StatusTransition records a status change.
type StatusTransition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusCallback is called after a session's status changes.
type StatusCallback func(s *Session, from, to Status)

const (
	maxTransitionsPerSession = 50
	maxEventsPerSession      = 100
)

// Session is one authenticated remote connection. Fields other than the
// identifying ones are guarded by mu and read through accessors.
type Session struct {
	ID           string
	Host         string
	Port         int
	Username     string
	AuthType     string
	ConnectionID string
	CreatedAt    time.Time

	conn Conn

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	lastError    string
	shell        ShellChannel
	files        FileChannel
	transitions  []StatusTransition
	events       []Event
	closed       bool

	shellMu   sync.Mutex // serializes shell opening
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, p Params, conn Conn, now time.Time) *Session {
	return &Session{
		ID:           id,
		Host:         p.Host,
		Port:         p.Port,
		Username:     p.Username,
		AuthType:     p.AuthType,
		ConnectionID: p.ConnectionID,
		CreatedAt:    now,
		conn:         conn,
		status:       StatusConnecting,
		lastActivity: now,
		done:         make(chan struct{}),
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the most recent touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// LastError returns the message recorded by the most recent MarkError.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Transitions returns a copy of the status history (last 50).
func (s *Session) Transitions() []StatusTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatusTransition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Events returns a copy of the event history (last 100).
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Info is the JSON view of a session.
type Info struct {
	ID              string    `json:"session_id"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	Username        string    `json:"username"`
	AuthType        string    `json:"auth_type"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	LastError       string    `json:"last_error,omitempty"`
	ShellOpen       bool      `json:"shell_open"`
	FileChannelOpen bool      `json:"file_channel_open"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:              s.ID,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		AuthType:        s.AuthType,
		ConnectionID:    s.ConnectionID,
		Status:          s.status,
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
		LastError:       s.lastError,
		ShellOpen:       s.shell != nil,
		FileChannelOpen: s.files != nil,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// setStatus records the transition and reports the previous status. It does
// not fire callbacks; the manager does that outside the lock.
func (s *Session) setStatus(to Status, now time.Time) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.status
	if from == to {
		return from, false
	}
	s.status = to
	s.transitions = append(s.transitions, StatusTransition{From: from, To: to, Timestamp: now})
	if len(s.transitions) > maxTransitionsPerSession {
		s.transitions = s.transitions[len(s.transitions)-maxTransitionsPerSession:]
	}
	return from, true
}

func (s *Session) addEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > maxEventsPerSession {
		s.events = s.events[len(s.events)-maxEventsPerSession:]
	}
}
