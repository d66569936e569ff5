package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrSealed is returned when sealed material cannot be opened.
var ErrSealed = errors.New("krypto: cannot open sealed value")

// Sealer encrypts small secrets (session images, token secrets) for storage.
type Sealer interface {
	Encrypt(data []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
	// Seal returns base64(nonce || ciphertext).
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// aesGCMSealer implements Sealer using AES-256-GCM
type aesGCMSealer struct {
	gcm cipher.AEAD
}

// NewSealer derives a 256-bit AES key from secret with HKDF-SHA256. info
// separates keys derived from the same secret for different purposes.
func NewSealer(secret []byte, info string) (Sealer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("krypto: secret must be at least 16 bytes, got %d", len(secret))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return NewAESGCMSealer(key)
}

// NewAESGCMSealer uses key directly. It must be 16, 24 or 32 bytes long.
func NewAESGCMSealer(key []byte) (Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &aesGCMSealer{gcm: gcm}, nil
}

// Encrypt encrypts byte data using AES-GCM
func (s *aesGCMSealer) Encrypt(data []byte) ([]byte, []byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nil, nonce, data, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts byte data using AES-GCM
func (s *aesGCMSealer) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return plaintext, nil
}

func (s *aesGCMSealer) Seal(plaintext []byte) (string, error) {
	ciphertext, nonce, err := s.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (s *aesGCMSealer) Open(sealed string) ([]byte, error) {
	if sealed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrSealed)
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}

	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return nil, fmt.Errorf("%w: input too short", ErrSealed)
	}
	return s.Decrypt(raw[n:], raw[:n])
}
