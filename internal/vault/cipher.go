package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

// KeySize is the length in bytes of a vault key (hex-encoded in config).
const KeySize = 32

// ErrDecryptionFailed is returned by Cipher.Decrypt for tampered tokens or
// tokens sealed under an unknown key. The vault never surfaces it to callers.
var ErrDecryptionFailed = errors.New("decryption failed")

// Cipher seals individual secrets as Fernet tokens. Every token carries its
// own random IV and HMAC tag, so secrets in one record never share an IV.
type Cipher struct {
	primary   *fernet.Key
	keys      []*fernet.Key // primary first, then previous keys for rotation
	ephemeral bool
}

// NewCipher builds a cipher from a hex-encoded 32-byte key. Previous keys are
// accepted for decryption only. An empty key yields a random process-lifetime
// key; anything sealed with it is unreadable after restart.
func NewCipher(hexKey string, previous []string) (*Cipher, error) {
	c := &Cipher{}
	if strings.TrimSpace(hexKey) == "" {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		c.primary = &k
		c.ephemeral = true
	} else {
		k, err := parseHexKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		c.primary = k
	}
	c.keys = append(c.keys, c.primary)

	for i, p := range previous {
		if strings.TrimSpace(p) == "" {
			continue
		}
		k, err := parseHexKey(p)
		if err != nil {
			return nil, fmt.Errorf("previous encryption key %d: %w", i, err)
		}
		c.keys = append(c.keys, k)
	}
	return c, nil
}

func parseHexKey(s string) (*fernet.Key, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", KeySize, len(b))
	}
	var k fernet.Key
	copy(k[:], b)
	return &k, nil
}

// Ephemeral reports whether the key was generated for this process only.
func (c *Cipher) Ephemeral() bool {
	return c.ephemeral
}

// Encrypt seals plaintext under the primary key.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.primary)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a token sealed under the primary or any previous key.
func (c *Cipher) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, c.keys)
	if msg == nil {
		return "", ErrDecryptionFailed
	}
	return string(msg), nil
}

// SealedByPrimary reports whether token opens under the primary key alone.
func (c *Cipher) SealedByPrimary(token string) bool {
	return fernet.VerifyAndDecrypt([]byte(token), 0, c.keys[:1]) != nil
}
