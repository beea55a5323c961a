package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the simulator.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":4000"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// JWTSecret signs HS256 tokens when asymmetric signing is off.
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev_secret"`

	SessionCookie string `env:"SESSION_COOKIE" envDefault:"oauthsim.sid"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	// SeedFile is an optional YAML document with clients, users, keys and
	// claim configuration. Built-in defaults are used when empty.
	SeedFile string `env:"SEED_FILE"`

	// ExtraUsers adds users on top of the seed. Format: "user1:pw1,user2:pw2"
	ExtraUsers string `env:"EXTRA_USERS"`

	// Initial signing toggles; both can be changed at runtime via /sim.
	AsymKeySigning bool `env:"ASYM_KEY_SIGNING" envDefault:"false"`
	IncludeJWTKid  bool `env:"INCLUDE_JWT_KID" envDefault:"true"`

	// MaxDelay caps injected delays, both ?delay= and configured ones.
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"30s"`

	EnableSimAPI  bool `env:"ENABLE_SIM_API" envDefault:"true"`
	EnableMetrics bool `env:"ENABLE_METRICS" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. JWT_SECRET may live there.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.SeedFile != "" {
		abs, err := filepath.Abs(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("resolving seed file path: %w", err)
		}

		cfg.SeedFile = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}

	if c.SessionCookie == "" {
		return fmt.Errorf("SESSION_COOKIE must not be empty")
	}

	if c.MaxDelay <= 0 {
		return fmt.Errorf("MAX_DELAY must be positive, got %s", c.MaxDelay)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	if _, err := c.ParseExtraUsers(); err != nil {
		return err
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SigningConfig returns the initial signing toggles.
func (c *Config) SigningConfig() models.SigningConfig {
	return models.SigningConfig{
		AsymKeySigning: c.AsymKeySigning,
		IncludeJWTKid:  c.IncludeJWTKid,
	}
}

// ParseExtraUsers parses the EXTRA_USERS string.
// Format: "user1:password1,user2:password2"
func (c *Config) ParseExtraUsers() ([]models.User, error) {
	if c.ExtraUsers == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var users []models.User

	for _, pair := range strings.Split(c.ExtraUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		password := pair[idx+1:]
		if username == "" || password == "" {
			return nil, fmt.Errorf("empty username or password in entry %d", len(users)+1)
		}

		if _, dup := seen[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in EXTRA_USERS", username)
		}

		seen[username] = struct{}{}
		users = append(users, models.User{Username: username, Password: password})
	}

	return users, nil
}
