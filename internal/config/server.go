// Package config loads process configuration: environment variables (with an
// optional .env file) for the server and a TOML preferences file for the
// terminal client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server is the web server's configuration.
type Server struct {
	ProjectID          string
	FirebaseAPIKey     string
	GoogleClientID     string
	GoogleClientSecret string
	BaseURL            string
	Port               string
	SessionDB          string
	Env                string
	LogLevel           string
	LogFormat          string
	SessionTTL         time.Duration
	IdleTimeout        time.Duration
	// BehindProxy trusts X-Forwarded-For hops added by a proxy on a
	// private or loopback address.
	BehindProxy bool
}

// LoadDotEnv reads .env into the environment if it exists. It reports
// whether a file was loaded.
func LoadDotEnv(paths ...string) bool {
	return godotenv.Load(paths...) == nil
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (*Server, error) {
	cfg := &Server{
		ProjectID:          os.Getenv("GOOGLE_CLOUD_PROJECT"),
		FirebaseAPIKey:     os.Getenv("FIREBASE_API_KEY"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		BaseURL:            getenv("BASE_URL", ""),
		Port:               getenv("PORT", "8080"),
		SessionDB:          getenv("SESSION_DB", "sessions.db"),
		Env:                getenv("ENV", "development"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
		SessionTTL:         30 * 24 * time.Hour,
		IdleTimeout:        30 * time.Minute,
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required")
	}
	if cfg.FirebaseAPIKey == "" {
		return nil, fmt.Errorf("FIREBASE_API_KEY environment variable is required")
	}
	if (cfg.GoogleClientID == "") != (cfg.GoogleClientSecret == "") {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var err error
	if cfg.SessionTTL, err = duration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = duration("IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		if cfg.BehindProxy, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid TRUST_PROXY: %w", err)
		}
	}

	return cfg, nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Server) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// GoogleRedirectURL is the OAuth callback registered with Google.
func (c *Server) GoogleRedirectURL() string {
	return c.BaseURL + "/auth/google/callback"
}

// Production reports whether cookies must be Secure.
func (c *Server) Production() bool {
	return c.Env == "production"
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
