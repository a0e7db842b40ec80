// Package google is the delegated-access client for Google Calendar: it
// runs the authorization-code flow, refreshes access tokens on demand from
// the encrypted credential in the vault, and wraps calendar API calls with
// a shared rate-limit retry policy.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/briefly-app/briefly/internal/config"
	"github.com/briefly-app/briefly/internal/vault"
)

// ErrInvalidHandshake is returned when an authorization callback carries an
// unknown or expired correlation token.
var ErrInvalidHandshake = errors.New("google: unknown or expired handshake token")

// ErrNotConnected mirrors the vault sentinel for callers of this package.
var ErrNotConnected = vault.ErrNotConnected

const revokeURL = "https://oauth2.googleapis.com/revoke"

// accessTokenTTL bounds how long a decrypted access token stays in the
// in-process cache.
const accessTokenTTL = 30 * time.Minute

// OAuthClient owns the authorization handshake and access-token lifecycle
// for all users.
type OAuthClient struct {
	oauth      *oauth2.Config
	vault      *vault.Vault
	handshakes *vault.HandshakeStore
	logger     *slog.Logger
	httpClient *http.Client

	mu    sync.Mutex
	cache map[int64]cachedToken

	now func() time.Time
}

type cachedToken struct {
	token     string
	fetchedAt time.Time
}

func NewOAuthClient(cfg *config.Config, v *vault.Vault, handshakes *vault.HandshakeStore, logger *slog.Logger) *OAuthClient {
	return &OAuthClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     googleoauth.Endpoint,
		},
		vault:      v,
		handshakes: handshakes,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      make(map[int64]cachedToken),
		now:        time.Now,
	}
}

// BeginAuthorization issues a handshake token for the user and returns the
// URL their browser must visit. access_type=offline with forced consent is
// required for Google to return a refresh token.
func (c *OAuthClient) BeginAuthorization(owner int64) (authURL, token string, err error) {
	token, err = c.handshakes.Issue(owner)
	if err != nil {
		return "", "", err
	}
	authURL = c.oauth.AuthCodeURL(token,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	return authURL, token, nil
}

// CompleteAuthorization consumes the handshake token, exchanges the code,
// and stores the encrypted refresh credential. The token is single-use:
// even a failed exchange invalidates it.
func (c *OAuthClient) CompleteAuthorization(ctx context.Context, code, token string) (int64, error) {
	owner, ok := c.handshakes.Consume(token)
	if !ok {
		return 0, ErrInvalidHandshake
	}

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("google: exchanging authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return 0, errors.New("google: token response carries no refresh token")
	}

	if err := c.vault.SaveRefreshToken(ctx, owner, tok.RefreshToken); err != nil {
		return 0, err
	}

	c.logger.Info("calendar connected", "user_id", owner)
	return owner, nil
}

// AccessToken returns a valid access token for the owner, exchanging the
// stored refresh credential with the provider. A short-lived in-process
// cache bounds how often decrypted material is handled.
func (c *OAuthClient) AccessToken(ctx context.Context, owner int64) (string, error) {
	c.mu.Lock()
	if cached, ok := c.cache[owner]; ok && c.now().Sub(cached.fetchedAt) < accessTokenTTL {
		c.mu.Unlock()
		return cached.token, nil
	}
	c.mu.Unlock()

	refreshToken, err := c.vault.RefreshToken(ctx, owner)
	if err != nil {
		return "", err
	}

	source := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("google: refreshing access token for user %d: %w", owner, err)
	}

	c.mu.Lock()
	c.cache[owner] = cachedToken{token: tok.AccessToken, fetchedAt: c.now()}
	c.mu.Unlock()
	return tok.AccessToken, nil
}

// Invalidate drops the owner's cached access token. Called on any
// unauthorized response, since retrying with a stale token cannot succeed.
func (c *OAuthClient) Invalidate(owner int64) {
	c.mu.Lock()
	delete(c.cache, owner)
	c.mu.Unlock()
}

// Revoke revokes the grant upstream (best effort) and unconditionally
// clears the local credential, calendar selection, and token cache.
func (c *OAuthClient) Revoke(ctx context.Context, owner int64) error {
	if token, err := c.AccessToken(ctx, owner); err == nil {
		form := url.Values{"token": {token}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL,
			nil)
		if err == nil {
			req.URL.RawQuery = form.Encode()
			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("upstream token revocation failed", "user_id", owner, "error", err)
			} else {
				resp.Body.Close()
			}
		}
	}

	c.Invalidate(owner)
	if err := c.vault.Clear(ctx, owner); err != nil {
		return err
	}
	c.logger.Info("calendar disconnected", "user_id", owner)
	return nil
}
