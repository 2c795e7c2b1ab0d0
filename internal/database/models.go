package database

import "time"

// StoredCredential holds the encrypted secrets of a saved connection. Each
// secret column carries its own Fernet token (IV and HMAC included); an empty
// column means the secret was never supplied.
type StoredCredential struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Host       string    `gorm:"not null" json:"host"`
	Port       int       `gorm:"not null;default:22" json:"port"`
	Username   string    `gorm:"not null" json:"username"`
	AuthType   string    `gorm:"not null;default:password" json:"auth_type"`
	Password   string    `gorm:"type:text" json:"-"`
	PrivateKey string    `gorm:"type:text" json:"-"`
	Passphrase string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// SavedConnection is the secret-free metadata shown in the connection list.
type SavedConnection struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	Name           string     `gorm:"not null" json:"name"`
	Host           string     `gorm:"not null" json:"host"`
	Port           int        `gorm:"not null;default:22" json:"port"`
	Username       string     `gorm:"not null" json:"username"`
	AuthType       string     `gorm:"not null;default:password" json:"auth_type"`
	HasCredentials bool       `gorm:"not null;default:false" json:"has_credentials"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// AuditLog records session lifecycle and file operations.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"index;size:64" json:"session_id"`
	EventType string    `gorm:"index;not null" json:"event_type"`
	Username  string    `json:"username"`
	Host      string    `json:"host"`
	SourceIP  string    `json:"source_ip"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{&StoredCredential{}, &SavedConnection{}, &AuditLog{}}
}
