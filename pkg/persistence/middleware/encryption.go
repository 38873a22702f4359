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

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// envelopePrefix marks a turn field sealed by the encryption middleware.
const envelopePrefix = "enc:v1:"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.HistoryStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals the user and ai text
// of every turn with AES-GCM. Timestamps and the number of turns stay visible.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.HistoryStore) ports.HistoryStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

// DecodeKey parses a base64 (standard encoding) AES-256 key.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, sessionID string, history domain.History) error {
	sealed := make(domain.History, len(history))
	for i, t := range history {
		user, err := m.seal(t.User)
		if err != nil {
			return fmt.Errorf("failed to encrypt history: %w", err)
		}
		ai, err := m.seal(t.AI)
		if err != nil {
			return fmt.Errorf("failed to encrypt history: %w", err)
		}
		sealed[i] = domain.Turn{User: user, AI: ai, At: t.At}
	}
	return m.next.Save(ctx, sessionID, sealed)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (domain.History, error) {
	sealed, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(domain.History, len(sealed))
	for i, t := range sealed {
		user, err := m.open(t.User)
		if err != nil {
			return nil, fmt.Errorf("%w: turn %d: %v", domain.ErrCorruptState, i, err)
		}
		ai, err := m.open(t.AI)
		if err != nil {
			return nil, fmt.Errorf("%w: turn %d: %v", domain.ErrCorruptState, i, err)
		}
		out[i] = domain.Turn{User: user, AI: ai, At: t.At}
	}
	return out, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) seal(plain string) (string, error) {
	ciphertext, err := encrypt([]byte(plain), m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(field string) (string, error) {
	encoded, ok := strings.CutPrefix(field, envelopePrefix)
	if !ok {
		// Plaintext written before encryption was enabled is rejected: fail secure.
		return "", errors.New("field is missing encrypted envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
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

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
