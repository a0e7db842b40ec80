package google

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/briefly-app/briefly/internal/config"
	"github.com/briefly-app/briefly/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOAuthClient(t *testing.T) (*OAuthClient, *vault.HandshakeStore) {
	t.Helper()
	cfg := &config.Config{BaseURL: "https://briefly.example.com"}
	cfg.Google.ClientID = "client-id"
	cfg.Google.ClientSecret = "client-secret"
	cfg.Google.RedirectPath = "/auth/callback"

	cipher, err := vault.NewCipher("a-secret-long-enough-to-be-plausible", testLogger())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	handshakes := vault.NewHandshakeStore(10*time.Minute, testLogger())
	v := vault.New(cipher, nil, testLogger())
	return NewOAuthClient(cfg, v, handshakes, testLogger()), handshakes
}

func TestBeginAuthorization(t *testing.T) {
	c, handshakes := testOAuthClient(t)

	authURL, token, err := c.BeginAuthorization(42)
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("state") != token {
		t.Fatal("auth URL must carry the handshake token as state")
	}
	if q.Get("access_type") != "offline" {
		t.Fatal("offline access is required for a refresh token")
	}
	if q.Get("prompt") != "consent" {
		t.Fatal("consent must be forced so Google reissues the refresh token")
	}
	if q.Get("redirect_uri") != "https://briefly.example.com/auth/callback" {
		t.Fatalf("unexpected redirect_uri %q", q.Get("redirect_uri"))
	}

	// The issued token resolves back to the owner exactly once.
	owner, ok := handshakes.Consume(token)
	if !ok || owner != 42 {
		t.Fatalf("Consume: got (%d, %v)", owner, ok)
	}
}

func TestCompleteAuthorizationRejectsUnknownToken(t *testing.T) {
	c, _ := testOAuthClient(t)

	_, err := c.CompleteAuthorization(context.Background(), "code", "bogus-token")
	if !errors.Is(err, ErrInvalidHandshake) {
		t.Fatalf("got %v, want ErrInvalidHandshake", err)
	}
}

func TestCompleteAuthorizationBurnsTokenOnFailedExchange(t *testing.T) {
	c, handshakes := testOAuthClient(t)

	token, _ := handshakes.Issue(42)

	// The code exchange hits Google's real endpoint and fails; the token
	// must still be unusable afterwards.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := c.CompleteAuthorization(ctx, "bad-code", token); err == nil {
		t.Fatal("expected exchange failure")
	}

	if _, err := c.CompleteAuthorization(context.Background(), "bad-code", token); !errors.Is(err, ErrInvalidHandshake) {
		t.Fatalf("reused token: got %v, want ErrInvalidHandshake", err)
	}
}

func TestTransientAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"wrapped rate limit", errors.Join(errors.New("call failed"), &googleapi.Error{Code: 429}), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transientAPIError(tt.err); got != tt.want {
				t.Errorf("transientAPIError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !isUnauthorized(&googleapi.Error{Code: 401}) {
		t.Fatal("401 must classify as unauthorized")
	}
	if isUnauthorized(&googleapi.Error{Code: 403}) {
		t.Fatal("403 is not unauthorized")
	}
	if isUnauthorized(nil) {
		t.Fatal("nil is not unauthorized")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "second", "third"); got != "second" {
		t.Fatalf("got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestParseEventTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-03-15T14:00:00Z", time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)},
		{"2026-03-15", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"not a timestamp", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseEventTime(tt.raw); !got.Equal(tt.want) {
			t.Errorf("parseEventTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
