package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HandshakeStore issues single-use correlation tokens binding an in-flight
// authorization redirect to a user. Tokens expire after a fixed TTL and are
// swept in the background independent of lookup.
type HandshakeStore struct {
	mu     sync.Mutex
	tokens map[string]handshake
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type handshake struct {
	userID    int64
	createdAt time.Time
	expiresAt time.Time
}

func NewHandshakeStore(ttl time.Duration, logger *slog.Logger) *HandshakeStore {
	return &HandshakeStore{
		tokens: make(map[string]handshake),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Issue creates a cryptographically random single-use token for the user.
func (h *HandshakeStore) Issue(userID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("vault: generating handshake token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.tokens[token] = handshake{
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(h.ttl),
	}
	return token, nil
}

// Consume resolves and invalidates a token. An unknown or expired token
// returns ok=false; either way the token cannot be used again.
func (h *HandshakeStore) Consume(token string) (userID int64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hs, found := h.tokens[token]
	if !found {
		return 0, false
	}
	delete(h.tokens, token)
	if h.now().After(hs.expiresAt) {
		return 0, false
	}
	return hs.userID, true
}

// Sweep drops expired tokens and returns how many were removed.
func (h *HandshakeStore) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	removed := 0
	for token, hs := range h.tokens {
		if now.After(hs.expiresAt) {
			delete(h.tokens, token)
			removed++
		}
	}
	return removed
}

// Run sweeps on the given interval until the context is cancelled.
func (h *HandshakeStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := h.Sweep(); removed > 0 {
				h.logger.Debug("swept expired handshake tokens", "count", removed)
			}
		}
	}
}
