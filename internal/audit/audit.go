// Package audit records session lifecycle and file events to the database
// and the standard logger.
//
// Entries are written synchronously through gorm into the audit_logs table
// and purged after a retention period by the jobs scheduler.
package audit

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/sshsession"
)

// Event types.
const (
	EventSessionCreated    = "session_created"
	EventSessionClosed     = "session_closed"
	EventSessionError      = "session_error"
	EventConnectionFailed  = "connection_failed"
	EventTerminalAttached  = "terminal_attached"
	EventFileOperation     = "file_operation"
	EventFileTransfer      = "file_transfer"
	EventCredentialSaved   = "credential_saved"
	EventConnectionDeleted = "connection_deleted"
)

// DefaultRetentionDays is used when no retention period is configured.
const DefaultRetentionDays = 90

// Entry holds the fields of one audit record.
type Entry struct {
	SessionID string
	EventType string
	Username  string
	Host      string
	SourceIP  string
	Details   string
}

// Auditor writes and queries audit records.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// New returns an Auditor over db. retentionDays <= 0 selects
// DefaultRetentionDays.
func New(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// Log records an audit event. A nil Auditor discards it.
func (a *Auditor) Log(e Entry) error {
	if a == nil {
		return nil
	}
	record := database.AuditLog{
		SessionID: e.SessionID,
		EventType: e.EventType,
		Username:  e.Username,
		Host:      e.Host,
		SourceIP:  e.SourceIP,
		Details:   e.Details,
		CreatedAt: a.nowFn(),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s session=%s user=%s host=%s ip=%s details=%s",
		e.EventType,
		e.SessionID,
		logutil.SanitizeForLog(e.Username),
		logutil.SanitizeForLog(e.Host),
		e.SourceIP,
		logutil.SanitizeForLog(logutil.Truncate(e.Details, 200)),
	)
	return nil
}

// QueryOptions filters audit records.
type QueryOptions struct {
	SessionID string
	EventType string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult is one page of audit records, newest first.
type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query returns the audit records matching opts.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.AuditLog{})

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan deletes records older than days, or the retention period
// when days <= 0. It returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// StatusHook returns a session status callback that records closes and
// errors. Register it with sshsession.Manager.OnStatusChange.
func (a *Auditor) StatusHook() sshsession.StatusCallback {
	return func(s *sshsession.Session, from, to sshsession.Status) {
		var eventType, details string
		switch to {
		case sshsession.StatusDisconnected:
			eventType = EventSessionClosed
			details = fmt.Sprintf("from=%s duration=%s", from, a.nowFn().Sub(s.CreatedAt).Round(time.Second))
		case sshsession.StatusError:
			eventType = EventSessionError
			details = s.LastError()
		default:
			return
		}
		a.Log(Entry{
			SessionID: s.ID,
			EventType: eventType,
			Username:  s.Username,
			Host:      s.Host,
			Details:   details,
		})
	}
}
