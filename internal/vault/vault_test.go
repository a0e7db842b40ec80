package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/briefly-app/briefly/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSettingsRepo struct {
	settings map[int64]*store.UserSettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{settings: make(map[int64]*store.UserSettings)}
}

func (f *fakeSettingsRepo) Get(ctx context.Context, userID int64) (*store.UserSettings, error) {
	s, ok := f.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSettingsRepo) SaveCredential(ctx context.Context, userID int64, encrypted []byte) error {
	s, ok := f.settings[userID]
	if !ok {
		s = &store.UserSettings{UserID: userID}
		f.settings[userID] = s
	}
	s.CalendarConnected = true
	s.RefreshTokenEnc = encrypted
	return nil
}

func (f *fakeSettingsRepo) ClearCredential(ctx context.Context, userID int64) error {
	s, ok := f.settings[userID]
	if !ok {
		return nil
	}
	s.CalendarConnected = false
	s.RefreshTokenEnc = nil
	s.CalendarID = nil
	return nil
}

func (f *fakeSettingsRepo) SetCalendarID(ctx context.Context, userID int64, calendarID *string) error {
	s, ok := f.settings[userID]
	if !ok {
		s = &store.UserSettings{UserID: userID}
		f.settings[userID] = s
	}
	s.CalendarID = calendarID
	return nil
}

func (f *fakeSettingsRepo) SetAutoSync(ctx context.Context, userID int64, autoSync bool) error {
	s, ok := f.settings[userID]
	if !ok {
		s = &store.UserSettings{UserID: userID}
		f.settings[userID] = s
	}
	s.AutoSync = autoSync
	return nil
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plaintext := []byte("1//refresh-token-value")
	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(sealed) == string(plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}

	opened, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestCipherUniqueNonces(t *testing.T) {
	c, err := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	first, _ := c.Encrypt([]byte("same input"))
	second, _ := c.Encrypt([]byte("same input"))
	if string(first) == string(second) {
		t.Fatal("two encryptions of the same plaintext must not be identical")
	}
}

func TestCipherWrongKeyFails(t *testing.T) {
	a, _ := NewCipher("key-one-key-one-key-one-key-one!", testLogger())
	b, _ := NewCipher("key-two-key-two-key-two-key-two!", testLogger())

	sealed, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(sealed); err == nil {
		t.Fatal("decryption with a different key must fail")
	}
}

func TestCipherRejectsTruncatedCiphertext(t *testing.T) {
	c, _ := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	if _, err := c.Decrypt([]byte("short")); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestCipherEphemeralKeyWhenSecretEmpty(t *testing.T) {
	a, err := NewCipher("", testLogger())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	b, _ := NewCipher("", testLogger())

	sealed, _ := a.Encrypt([]byte("value"))
	if _, err := a.Decrypt(sealed); err != nil {
		t.Fatalf("same-process decrypt should work: %v", err)
	}
	if _, err := b.Decrypt(sealed); err == nil {
		t.Fatal("a second ephemeral key must not open the first key's ciphertext")
	}
}

func TestVaultSaveAndRetrieve(t *testing.T) {
	ctx := context.Background()
	cipher, _ := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	repo := newFakeSettingsRepo()
	v := New(cipher, repo, testLogger())

	if err := v.SaveRefreshToken(ctx, 7, "1//token"); err != nil {
		t.Fatalf("SaveRefreshToken: %v", err)
	}

	stored := repo.settings[7]
	if !stored.CalendarConnected {
		t.Fatal("saving a credential must mark the user connected")
	}
	if string(stored.RefreshTokenEnc) == "1//token" {
		t.Fatal("credential must not be stored in plaintext")
	}

	got, err := v.RefreshToken(ctx, 7)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if got != "1//token" {
		t.Fatalf("got %q, want the saved token", got)
	}
}

func TestVaultNotConnected(t *testing.T) {
	ctx := context.Background()
	cipher, _ := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	repo := newFakeSettingsRepo()
	v := New(cipher, repo, testLogger())

	if _, err := v.RefreshToken(ctx, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("unknown user: got %v, want ErrNotConnected", err)
	}

	// Connected flag without ciphertext is still not usable.
	repo.settings[2] = &store.UserSettings{UserID: 2, CalendarConnected: true}
	if _, err := v.RefreshToken(ctx, 2); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("empty credential: got %v, want ErrNotConnected", err)
	}
}

func TestVaultClear(t *testing.T) {
	ctx := context.Background()
	cipher, _ := NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	repo := newFakeSettingsRepo()
	v := New(cipher, repo, testLogger())

	if err := v.SaveRefreshToken(ctx, 7, "1//token"); err != nil {
		t.Fatalf("SaveRefreshToken: %v", err)
	}
	if err := v.Clear(ctx, 7); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := v.RefreshToken(ctx, 7); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("after clear: got %v, want ErrNotConnected", err)
	}
}

func TestHandshakeIssueAndConsume(t *testing.T) {
	h := NewHandshakeStore(10*time.Minute, testLogger())

	token, err := h.Issue(42)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	userID, ok := h.Consume(token)
	if !ok || userID != 42 {
		t.Fatalf("Consume: got (%d, %v), want (42, true)", userID, ok)
	}
}

func TestHandshakeSingleUse(t *testing.T) {
	h := NewHandshakeStore(10*time.Minute, testLogger())
	token, _ := h.Issue(42)

	if _, ok := h.Consume(token); !ok {
		t.Fatal("first consume must succeed")
	}
	if _, ok := h.Consume(token); ok {
		t.Fatal("second consume must fail")
	}
}

func TestHandshakeUnknownToken(t *testing.T) {
	h := NewHandshakeStore(10*time.Minute, testLogger())
	if _, ok := h.Consume("no-such-token"); ok {
		t.Fatal("unknown token must not resolve")
	}
}

func TestHandshakeExpiry(t *testing.T) {
	h := NewHandshakeStore(10*time.Minute, testLogger())
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return current }

	token, _ := h.Issue(42)
	current = current.Add(11 * time.Minute)

	if _, ok := h.Consume(token); ok {
		t.Fatal("expired token must not resolve")
	}
	// Expired consumption still burns the token.
	if _, ok := h.Consume(token); ok {
		t.Fatal("token must stay burned after expired consume")
	}
}

func TestHandshakeSweep(t *testing.T) {
	h := NewHandshakeStore(10*time.Minute, testLogger())
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return current }

	expired, _ := h.Issue(1)
	current = current.Add(11 * time.Minute)
	fresh, _ := h.Issue(2)

	if removed := h.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d tokens, want 1", removed)
	}
	if _, ok := h.Consume(expired); ok {
		t.Fatal("swept token must not resolve")
	}
	if userID, ok := h.Consume(fresh); !ok || userID != 2 {
		t.Fatal("fresh token must survive the sweep")
	}
}
