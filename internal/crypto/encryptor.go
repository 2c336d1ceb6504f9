// Package crypto encrypts token material at rest.
//
// Ciphertext is a Fernet token wrapped in one more layer of URL-safe
// base64, which keeps values written by earlier releases of the tool
// readable. The key is derived from a passphrase with PBKDF2 over a fixed
// salt; the fixed salt is a known weakness kept for compatibility with
// existing data.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "graph_api_salt_2024"
	keyIterations = 100000
)

var errInvalidToken = errors.New("invalid fernet token")

// Encryptor implements symmetric encrypt/decrypt of token strings.
type Encryptor struct {
	keys []*fernet.Key
	now  func() time.Time
}

// NewEncryptor derives the Fernet key from passphrase.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty encryption key", domain.ErrEncryption)
	}
	var key fernet.Key
	copy(key[:], pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, len(key), sha256.New))
	return &Encryptor{
		keys: []*fernet.Key{&key},
		now:  time.Now,
	}, nil
}

// Encrypt returns the ciphertext of plaintext. An empty string encrypts to an empty string.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSignAtTime([]byte(plaintext), e.keys[0], e.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}
	return base64.URLEncoding.EncodeToString(tok), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertext fails with domain.ErrEncryption.
// Token age is not checked.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	tok, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: outer encoding: %v", domain.ErrEncryption, err)
	}
	plaintext := fernet.VerifyAndDecrypt(tok, 0, e.keys)
	if plaintext == nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, errInvalidToken)
	}
	return string(plaintext), nil
}

// VerifyKey round-trips a sample value through the cipher.
func (e *Encryptor) VerifyKey() bool {
	const sample = "test_encryption"
	enc, err := e.Encrypt(sample)
	if err != nil {
		return false
	}
	dec, err := e.Decrypt(enc)
	return err == nil && dec == sample
}
