package authstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionSecretEnv holds the passphrase for at-rest value encryption.
	EncryptionSecretEnv = "WAGATEWAY_ENCRYPTION_SECRET"

	sealedPrefix     = "enc:v1:"
	keySize          = 32
	nonceSize        = 12
	pbkdf2Iterations = 100000
	encryptionSalt   = "wagateway-authstore-v1"
	minSecretLength  = 32
)

// Sealer encrypts stored values with AES-256-GCM.
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(encryptionSalt), pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// NewSealerFromEnv reads the secret from WAGATEWAY_ENCRYPTION_SECRET.
func NewSealerFromEnv() (*Sealer, error) {
	secret := os.Getenv(EncryptionSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EncryptionSecretEnv)
	}
	return NewSealer(secret)
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Values written before encryption was
// enabled are returned as-is.
func (s *Sealer) Open(stored string) ([]byte, error) {
	if !IsSealed(stored) {
		return []byte(stored), nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
