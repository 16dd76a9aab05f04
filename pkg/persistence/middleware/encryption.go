package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
)

// encryptedPrefix marks a password sealed by this middleware.
const encryptedPrefix = "enc:v1:"

// ErrNotEncrypted is returned when a stored password lacks the encryption envelope.
var ErrNotEncrypted = errors.New("stored password is not encrypted")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables key rotation without rewriting stored sessions.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.SessionMap
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals session passwords at
// rest with AES-GCM. Empty passwords are stored as is.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.SessionMap) ports.SessionMap {
		return &encryptionMiddleware{SessionMap: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) seal(s *domain.Session) (*domain.Session, error) {
	if s == nil || s.Password == "" {
		return s, nil
	}
	ciphertext, err := encrypt([]byte(s.Password), m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}
	sealed := s.Clone()
	sealed.Password = encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
	return sealed, nil
}

func (m *encryptionMiddleware) open(s *domain.Session) (*domain.Session, error) {
	if s == nil || s.Password == "" {
		return s, nil
	}
	encoded, ok := strings.CutPrefix(s.Password, encryptedPrefix)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", s.ID, ErrNotEncrypted)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password of session %s: %w", s.ID, err)
	}
	s.Password = string(plain)
	return s, nil
}

func (m *encryptionMiddleware) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.SessionMap.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(s)
}

func (m *encryptionMiddleware) GetAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return thenFuture(ctx, m.SessionMap.GetAsync(ctx, id), m.open)
}

func (m *encryptionMiddleware) Set(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) error {
	sealed, err := m.seal(s)
	if err != nil {
		return err
	}
	return m.SessionMap.Set(ctx, sealed, ttl, maxIdle)
}

func (m *encryptionMiddleware) PutIfAbsent(ctx context.Context, s *domain.Session, ttl, maxIdle time.Duration) (*domain.Session, error) {
	sealed, err := m.seal(s)
	if err != nil {
		return nil, err
	}
	existing, err := m.SessionMap.PutIfAbsent(ctx, sealed, ttl, maxIdle)
	if err != nil {
		return nil, err
	}
	return m.open(existing)
}

func (m *encryptionMiddleware) Remove(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.SessionMap.Remove(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(s)
}

func (m *encryptionMiddleware) RemoveAsync(ctx context.Context, id string) *ports.Future[*domain.Session] {
	return thenFuture(ctx, m.SessionMap.RemoveAsync(ctx, id), m.open)
}

func (m *encryptionMiddleware) Values(ctx context.Context, p domain.Predicate) ([]*domain.Session, error) {
	values, err := m.SessionMap.Values(ctx, p)
	if err != nil {
		return nil, err
	}
	for i, s := range values {
		if values[i], err = m.open(s); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
