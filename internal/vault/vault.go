// Package vault encrypts delegated refresh credentials at rest and owns the
// short-lived handshake tokens for the authorization flow. The plaintext
// refresh token never leaves this package's boundary.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/briefly-app/briefly/internal/store"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrNotConnected is returned when a user has no stored delegated credential.
var ErrNotConnected = errors.New("vault: calendar not connected")

const nonceSize = 24

// Cipher seals and opens refresh tokens with a process-wide symmetric key.
type Cipher struct {
	key [32]byte
}

// NewCipher derives the key from the configured secret. With an empty
// secret a random process-lifetime key is used instead: local development
// keeps working, but a warning is logged because stored ciphertexts become
// unrecoverable after a restart.
func NewCipher(secret string, logger *slog.Logger) (*Cipher, error) {
	c := &Cipher{}
	if secret == "" {
		if _, err := rand.Read(c.key[:]); err != nil {
			return nil, fmt.Errorf("vault: generating ephemeral key: %w", err)
		}
		logger.Warn("no encryption secret configured; using ephemeral key, stored credentials will not survive a restart")
		return c, nil
	}
	c.key = sha256.Sum256([]byte(secret))
	return c, nil
}

// Encrypt seals plaintext under a fresh random nonce. Output layout is
// nonce || box.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, errors.New("vault: ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("vault: decryption failed")
	}
	return plaintext, nil
}

// Vault stores and retrieves per-user delegated credentials.
type Vault struct {
	cipher   *Cipher
	settings store.SettingsRepository
	logger   *slog.Logger
}

func New(cipher *Cipher, settings store.SettingsRepository, logger *slog.Logger) *Vault {
	return &Vault{cipher: cipher, settings: settings, logger: logger}
}

// SaveRefreshToken encrypts and persists the refresh token, marking the
// user as connected.
func (v *Vault) SaveRefreshToken(ctx context.Context, userID int64, token string) error {
	encrypted, err := v.cipher.Encrypt([]byte(token))
	if err != nil {
		return err
	}
	if err := v.settings.SaveCredential(ctx, userID, encrypted); err != nil {
		return fmt.Errorf("vault: persisting credential for user %d: %w", userID, err)
	}
	return nil
}

// RefreshToken decrypts and returns the stored refresh token. Returns
// ErrNotConnected when the user has no usable credential.
func (v *Vault) RefreshToken(ctx context.Context, userID int64) (string, error) {
	settings, err := v.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("vault: loading settings for user %d: %w", userID, err)
	}
	if !settings.CalendarConnected || len(settings.RefreshTokenEnc) == 0 {
		return "", ErrNotConnected
	}
	plaintext, err := v.cipher.Decrypt(settings.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("vault: credential for user %d: %w", userID, err)
	}
	return string(plaintext), nil
}

// Clear removes the connection: flag, ciphertext, and calendar selection go
// together.
func (v *Vault) Clear(ctx context.Context, userID int64) error {
	if err := v.settings.ClearCredential(ctx, userID); err != nil {
		return fmt.Errorf("vault: clearing credential for user %d: %w", userID, err)
	}
	return nil
}
