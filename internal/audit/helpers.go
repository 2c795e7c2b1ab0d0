package audit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/yangjarod117/webssh/internal/sshsession"
)

// LogSessionCreated records a successful login.
func (a *Auditor) LogSessionCreated(s *sshsession.Session, sourceIP string) {
	a.Log(Entry{
		SessionID: s.ID,
		EventType: EventSessionCreated,
		Username:  s.Username,
		Host:      s.Host,
		SourceIP:  sourceIP,
		Details:   "auth=" + s.AuthType,
	})
}

// LogConnectionFailed records a rejected or unreachable connection attempt.
func (a *Auditor) LogConnectionFailed(p sshsession.Params, sourceIP string, err error) {
	a.Log(Entry{
		EventType: EventConnectionFailed,
		Username:  p.Username,
		Host:      p.Host,
		SourceIP:  sourceIP,
		Details:   err.Error(),
	})
}

// LogTerminalAttached records a terminal attach.
func (a *Auditor) LogTerminalAttached(s *sshsession.Session, sourceIP string) {
	a.Log(Entry{
		SessionID: s.ID,
		EventType: EventTerminalAttached,
		Username:  s.Username,
		Host:      s.Host,
		SourceIP:  sourceIP,
	})
}

// LogFileOperation records a mutating file operation such as write or delete.
func (a *Auditor) LogFileOperation(s *sshsession.Session, operation, path string) {
	a.Log(Entry{
		SessionID: s.ID,
		EventType: EventFileOperation,
		Username:  s.Username,
		Host:      s.Host,
		Details:   operation + ": " + path,
	})
}

// LogFileTransfer records a completed upload or download.
func (a *Auditor) LogFileTransfer(s *sshsession.Session, direction, path string, size int64) {
	a.Log(Entry{
		SessionID: s.ID,
		EventType: EventFileTransfer,
		Username:  s.Username,
		Host:      s.Host,
		Details:   direction + ": " + path + " bytes=" + strconv.FormatInt(size, 10),
	})
}

// SourceIP returns the client IP of a request. Behind the RealIP middleware
// RemoteAddr already carries the forwarded address.
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
