// Package vault encrypts message bodies before they reach the store, so
// the database holds no plaintext conversation content at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"
)

const (
	nonceSize = 16
	tagSize   = 16
	delimiter = ":"
)

// Vault performs AES-256-GCM under a key derived from the configured
// secret. Values are stored as a delimited envelope of
// base64(nonce):base64(tag):base64(ciphertext).
type Vault struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

func New(secret string, logger *zap.Logger) (*Vault, error) {
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead, logger: logger}, nil
}

// Encrypt returns the envelope for plaintext. Empty input passes through
// untouched. Losing a message is worse than storing it unencrypted, so
// any cryptographic failure degrades to returning the plaintext.
func (v *Vault) Encrypt(plaintext string) string {
	if plaintext == "" {
		return plaintext
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		v.logger.Error("content encryption failed, storing plaintext",
			zap.Error(err),
		)
		return plaintext
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return base64.StdEncoding.EncodeToString(nonce) +
		delimiter + base64.StdEncoding.EncodeToString(tag) +
		delimiter + base64.StdEncoding.EncodeToString(ciphertext)
}

// Decrypt reverses Encrypt. Input that is not a valid envelope, or whose
// authentication tag does not verify, is returned unchanged; this makes
// it safe to call on legacy rows that were stored unencrypted.
func (v *Vault) Decrypt(envelope string) string {
	nonce, tag, ciphertext, ok := splitEnvelope(envelope)
	if !ok {
		return envelope
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return envelope
	}
	return string(plaintext)
}

// LooksEncrypted is a shape check only: three segments with the right
// decoded nonce and tag lengths. Plaintext that happens to match the
// shape is a false positive callers have to live with.
func (v *Vault) LooksEncrypted(text string) bool {
	_, _, _, ok := splitEnvelope(text)
	return ok
}

func splitEnvelope(envelope string) (nonce, tag, ciphertext []byte, ok bool) {
	parts := strings.Split(envelope, delimiter)
	if len(parts) != 3 {
		return nil, nil, nil, false
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, false
	}
	tag, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, nil, false
	}
	ciphertext, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, false
	}

	return nonce, tag, ciphertext, true
}
