package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	OpenAI struct {
		APIKey      string
		Model       string
		BaseURL     string
		MaxTokens   int
		Temperature float64
	}

	Google struct {
		ClientID     string
		ClientSecret string
		RedirectPath string
	}

	// EncryptionSecret keys the refresh-token cipher. When empty the vault
	// falls back to a random process-lifetime key and logs a warning;
	// encrypted credentials then do not survive a restart.
	EncryptionSecret string

	HandshakeTTLMinutes int

	PrometheusEnabled bool
	TrustedProxies    []string
}

func Load() (*Config, error) {
	// Best-effort .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.OpenAI.APIKey = os.Getenv("APP_OPENAI_API_KEY")
	cfg.OpenAI.Model = getenvDefault("APP_OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAI.BaseURL = getenvDefault("APP_OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAI.MaxTokens = getenvInt("APP_OPENAI_MAX_TOKENS", 1500)
	cfg.OpenAI.Temperature = getenvFloat("APP_OPENAI_TEMPERATURE", 0.3)

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectPath = getenvDefault("APP_GOOGLE_REDIRECT_PATH", "/auth/callback")

	cfg.EncryptionSecret = os.Getenv("APP_ENCRYPTION_SECRET")
	cfg.HandshakeTTLMinutes = getenvInt("APP_HANDSHAKE_TTL_MINUTES", 10)

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, errors.New("google oauth configuration is required: APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET")
	}
	if cfg.HandshakeTTLMinutes <= 0 {
		return nil, fmt.Errorf("APP_HANDSHAKE_TTL_MINUTES must be positive (got %d)", cfg.HandshakeTTLMinutes)
	}
	if cfg.EncryptionSecret != "" && len(cfg.EncryptionSecret) < 32 {
		return nil, fmt.Errorf("APP_ENCRYPTION_SECRET must be at least 32 characters long (got %d)", len(cfg.EncryptionSecret))
	}

	return cfg, nil
}

// RedirectURL is the absolute OAuth callback URL registered with Google.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Google.RedirectPath
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
