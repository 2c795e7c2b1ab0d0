package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	// DataPath holds the database and log unless their paths are set.
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`

	// Credential vault. EncryptionKey is 32 bytes hex-encoded; when empty a
	// random key is generated and stored credentials do not survive restarts.
	EncryptionKey          string   `envconfig:"ENCRYPTION_KEY" default:""`
	PreviousEncryptionKeys []string `envconfig:"PREVIOUS_ENCRYPTION_KEYS" default:""`
	ConnectionsImportFile  string   `envconfig:"CONNECTIONS_IMPORT_FILE" default:""`

	// Remote sessions
	ConnectTimeout     time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	KeepaliveInterval  time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	KeepaliveTimeout   time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"15s"`
	HostKeyPolicy      string        `envconfig:"HOST_KEY_POLICY" default:"insecure"`
	KnownHostsPath     string        `envconfig:"KNOWN_HOSTS_PATH" default:""`

	AuditRetentionDays int      `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	AllowedOrigins     []string `envconfig:"ALLOWED_ORIGINS" default:""`
}

var Cfg Settings

func Load() {
	var s Settings
	if err := envconfig.Process("WEBSSH", &s); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "webssh.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "webssh.log")
	}
	Cfg = s
}
