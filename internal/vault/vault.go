// Package vault stores reusable SSH credentials encrypted at rest alongside
// secret-free saved-connection metadata.
//
// Two tables back the vault: stored_credentials (one Fernet token per present
// secret) and saved_connections (display metadata only). Writes go straight
// to SQLite; nothing is batched. Decryption failures degrade to "not found" so
// a corrupted historical record never blocks an unrelated connection attempt.
package vault

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/logutil"
)

// Auth kinds accepted by the vault and the session manager.
const (
	AuthPassword = "password"
	AuthKey      = "key"
)

// ErrNotFound is returned when a saved connection does not exist.
var ErrNotFound = errors.New("not found")

// ErrTargetMismatch is returned when a saved connection would point somewhere
// other than the host, port and user its stored credential was saved for.
var ErrTargetMismatch = errors.New("stored credential is bound to a different target")

// Connection is the secret-free saved-connection record.
type Connection = database.SavedConnection

// Config is the plaintext input to Save. Empty secrets are not stored.
type Config struct {
	Host       string
	Port       int
	Username   string
	AuthType   string
	Password   string
	PrivateKey string
	Passphrase string
}

// Credential is a decrypted stored credential as returned by Get.
type Credential struct {
	ID string
	Config
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Matches reports whether host, port and username are the target the
// credential was saved for. Port 0 means 22.
func (c *Credential) Matches(host string, port int, username string) bool {
	return sameTarget(c.Host, c.Port, c.Username, host, port, username)
}

func sameTarget(host1 string, port1 int, user1 string, host2 string, port2 int, user2 string) bool {
	if port1 == 0 {
		port1 = 22
	}
	if port2 == 0 {
		port2 = 22
	}
	return host1 == host2 && port1 == port2 && user1 == user2
}

// CredentialInfo describes a stored credential without revealing secrets.
type CredentialInfo struct {
	ID            string    `json:"id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Username      string    `json:"username"`
	AuthType      string    `json:"auth_type"`
	HasPassword   bool      `json:"has_password"`
	HasPrivateKey bool      `json:"has_private_key"`
	HasPassphrase bool      `json:"has_passphrase"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
}

// Vault is safe for concurrent use.
type Vault struct {
	mu     sync.Mutex
	db     *gorm.DB
	cipher *Cipher
	nowFn  func() time.Time
}

// New returns a vault persisting to db and sealing secrets with cipher.
func New(db *gorm.DB, cipher *Cipher) *Vault {
	return &Vault{db: db, cipher: cipher, nowFn: time.Now}
}

// Save encrypts each present secret independently and overwrites any
// existing credential with the same id.
func (v *Vault) Save(id string, cfg Config) error {
	if id == "" {
		return fmt.Errorf("save credential: empty id")
	}
	if cfg.Host == "" || cfg.Username == "" {
		return fmt.Errorf("save credential: host and username are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.AuthType == "" {
		cfg.AuthType = AuthPassword
	}

	rec := database.StoredCredential{
		ID:       id,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		AuthType: cfg.AuthType,
	}
	for _, f := range []struct {
		plain string
		dst   *string
	}{
		{cfg.Password, &rec.Password},
		{cfg.PrivateKey, &rec.PrivateKey},
		{cfg.Passphrase, &rec.Passphrase},
	} {
		if f.plain == "" {
			continue
		}
		tok, err := v.cipher.Encrypt(f.plain)
		if err != nil {
			return fmt.Errorf("save credential %s: %w", id, err)
		}
		*f.dst = tok
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.nowFn()
	rec.CreatedAt = now
	rec.LastUsedAt = now
	var existing database.StoredCredential
	if err := v.db.First(&existing, "id = ?", id).Error; err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("save credential %s: %w", id, err)
		}
		return tx.Model(&database.SavedConnection{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"has_credentials": true,
				"host":            rec.Host,
				"port":            rec.Port,
				"username":        rec.Username,
			}).Error
	})
}

// Get decrypts the credential for id. Any decryption failure is logged and
// reported as absence. A successful read refreshes the last-used timestamp.
func (v *Vault) Get(id string) (*Credential, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var rec database.StoredCredential
	if err := v.db.First(&rec, "id = ?", id).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[vault] load credential %s: %v", logutil.SanitizeForLog(id), err)
		}
		return nil, false
	}

	cred := &Credential{
		ID: rec.ID,
		Config: Config{
			Host:     rec.Host,
			Port:     rec.Port,
			Username: rec.Username,
			AuthType: rec.AuthType,
		},
		CreatedAt: rec.CreatedAt,
	}
	for _, f := range []struct {
		name  string
		token string
		dst   *string
	}{
		{"password", rec.Password, &cred.Password},
		{"private key", rec.PrivateKey, &cred.PrivateKey},
		{"passphrase", rec.Passphrase, &cred.Passphrase},
	} {
		if f.token == "" {
			continue
		}
		plain, err := v.cipher.Decrypt(f.token)
		if err != nil {
			log.Printf("[vault] credential %s: %s unreadable: %v", logutil.SanitizeForLog(id), f.name, err)
			return nil, false
		}
		*f.dst = plain
	}

	now := v.nowFn()
	if err := v.db.Model(&database.StoredCredential{}).Where("id = ?", id).
		Update("last_used_at", now).Error; err != nil {
		log.Printf("[vault] refresh last-used for %s: %v", logutil.SanitizeForLog(id), err)
	}
	cred.LastUsedAt = now
	return cred, true
}

// Has reports whether a credential record exists for id. It does not decrypt.
func (v *Vault) Has(id string) bool {
	var count int64
	v.db.Model(&database.StoredCredential{}).Where("id = ?", id).Count(&count)
	return count > 0
}

// Delete removes the credential for id. Deleting a missing id is not an error.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&database.StoredCredential{}).Error; err != nil {
			return fmt.Errorf("delete credential %s: %w", id, err)
		}
		return tx.Model(&database.SavedConnection{}).Where("id = ?", id).
			Update("has_credentials", false).Error
	})
}

// List returns metadata for every stored credential.
func (v *Vault) List() ([]CredentialInfo, error) {
	var recs []database.StoredCredential
	if err := v.db.Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	infos := make([]CredentialInfo, len(recs))
	for i, r := range recs {
		infos[i] = CredentialInfo{
			ID:            r.ID,
			Host:          r.Host,
			Port:          r.Port,
			Username:      r.Username,
			AuthType:      r.AuthType,
			HasPassword:   r.Password != "",
			HasPrivateKey: r.PrivateKey != "",
			HasPassphrase: r.Passphrase != "",
			CreatedAt:     r.CreatedAt,
			LastUsedAt:    r.LastUsedAt,
		}
	}
	return infos, nil
}

// SaveConnection creates or overwrites saved-connection metadata. The
// has-credentials flag is derived from the credential store. Retargeting a
// connection away from its stored credential fails with ErrTargetMismatch.
func (v *Vault) SaveConnection(conn Connection) error {
	if conn.ID == "" {
		return fmt.Errorf("save connection: empty id")
	}
	if conn.Host == "" || conn.Username == "" {
		return fmt.Errorf("save connection: host and username are required")
	}
	if conn.Port == 0 {
		conn.Port = 22
	}
	if conn.AuthType == "" {
		conn.AuthType = AuthPassword
	}
	if conn.Name == "" {
		conn.Name = conn.Username + "@" + conn.Host
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var cred database.StoredCredential
	if err := v.db.First(&cred, "id = ?", conn.ID).Error; err == nil &&
		!sameTarget(cred.Host, cred.Port, cred.Username, conn.Host, conn.Port, conn.Username) {
		return fmt.Errorf("save connection %s: %w", conn.ID, ErrTargetMismatch)
	}

	var existing database.SavedConnection
	if err := v.db.First(&existing, "id = ?", conn.ID).Error; err == nil {
		conn.CreatedAt = existing.CreatedAt
		if conn.LastUsedAt == nil {
			conn.LastUsedAt = existing.LastUsedAt
		}
	} else if conn.CreatedAt.IsZero() {
		conn.CreatedAt = v.nowFn()
	}
	conn.HasCredentials = v.Has(conn.ID)

	if err := v.db.Save(&conn).Error; err != nil {
		return fmt.Errorf("save connection %s: %w", conn.ID, err)
	}
	return nil
}

// GetConnection returns the saved connection for id.
func (v *Vault) GetConnection(id string) (*Connection, error) {
	var conn database.SavedConnection
	if err := v.db.First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return &conn, nil
}

// ListConnections returns all saved connections ordered by name.
func (v *Vault) ListConnections() ([]Connection, error) {
	var conns []database.SavedConnection
	if err := v.db.Order("name").Order("id").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// DeleteConnection removes a saved connection and cascades to its credential.
func (v *Vault) DeleteConnection(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var removed int64
	err := v.db.Transaction(func(tx *gorm.DB) error {
		cres := tx.Where("id = ?", id).Delete(&database.StoredCredential{})
		if cres.Error != nil {
			return cres.Error
		}
		res := tx.Where("id = ?", id).Delete(&database.SavedConnection{})
		if res.Error != nil {
			return res.Error
		}
		removed = cres.RowsAffected + res.RowsAffected
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConnection refreshes the last-used timestamp of a saved connection.
func (v *Vault) TouchConnection(id string) error {
	return v.db.Model(&database.SavedConnection{}).Where("id = ?", id).
		Update("last_used_at", v.nowFn()).Error
}

// Reconcile synthesizes a saved connection named username@host for every
// credential that has none, so credential-only records stay discoverable.
func (v *Vault) Reconcile() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var orphans []database.StoredCredential
	err := v.db.Where("id NOT IN (?)", v.db.Model(&database.SavedConnection{}).Select("id")).
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	created := 0
	for _, c := range orphans {
		lastUsed := c.LastUsedAt
		conn := database.SavedConnection{
			ID:             c.ID,
			Name:           c.Username + "@" + c.Host,
			Host:           c.Host,
			Port:           c.Port,
			Username:       c.Username,
			AuthType:       c.AuthType,
			HasCredentials: true,
			CreatedAt:      c.CreatedAt,
			LastUsedAt:     &lastUsed,
		}
		if err := v.db.Create(&conn).Error; err != nil {
			log.Printf("[vault] reconcile %s: %v", logutil.SanitizeForLog(c.ID), err)
			continue
		}
		created++
	}
	if created > 0 {
		log.Printf("[vault] reconciled %d credential(s) into saved connections", created)
	}
	return created, nil
}

// Rekey re-encrypts every secret not already sealed under the primary key.
// Records that cannot be decrypted are left untouched and logged.
func (v *Vault) Rekey() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var recs []database.StoredCredential
	if err := v.db.Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("rekey: %w", err)
	}

	rewritten := 0
	for _, rec := range recs {
		changed := false
		ok := true
		for _, tok := range []*string{&rec.Password, &rec.PrivateKey, &rec.Passphrase} {
			if *tok == "" || v.cipher.SealedByPrimary(*tok) {
				continue
			}
			plain, err := v.cipher.Decrypt(*tok)
			if err != nil {
				log.Printf("[vault] rekey %s: %v", logutil.SanitizeForLog(rec.ID), err)
				ok = false
				break
			}
			sealed, err := v.cipher.Encrypt(plain)
			if err != nil {
				return rewritten, fmt.Errorf("rekey %s: %w", rec.ID, err)
			}
			*tok = sealed
			changed = true
		}
		if !ok || !changed {
			continue
		}
		if err := v.db.Save(&rec).Error; err != nil {
			return rewritten, fmt.Errorf("rekey %s: %w", rec.ID, err)
		}
		rewritten++
	}
	return rewritten, nil
}
