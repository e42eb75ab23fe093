package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode   `env:"MODE" envDefault:"offline"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL"`
	SiteID    string `env:"SITE_ID" envDefault:"local"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN"`

	EnableLocalAuth bool          `env:"ENABLE_LOCAL_AUTH" envDefault:"true"`
	AuthHMACSecret  string        `env:"AUTH_HMAC_SECRET" envDefault:"supersecret-dev-key"`
	AuthIssuer      string        `env:"AUTH_ISSUER" envDefault:"beelearnt-offline"`
	AuthTokenTTL    time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"8h"`

	AdminUser     string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPassHash string `env:"ADMIN_PASS_HASH"` // bcrypt; empty disables the built-in admin

	CORSOriginsOnline  []string `env:"CORS_ORIGINS_ONLINE" envSeparator:"," envDefault:"https://app.beelearnt.co.za"`
	CORSOriginsOffline []string `env:"CORS_ORIGINS_OFFLINE" envSeparator:"," envDefault:"http://localhost:3000"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// CORSOrigins picks the origin list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

// FromEnv loads .env (when present) and parses the environment.
func FromEnv() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("config: .env present but unreadable: %v", err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Mode {
	case ModeOffline, ModeOnline:
	default:
		return Config{}, fmt.Errorf("unknown MODE %q", cfg.Mode)
	}
	if cfg.Mode == ModeOnline && cfg.AuthHMACSecret == "supersecret-dev-key" {
		return Config{}, fmt.Errorf("AUTH_HMAC_SECRET must be set in online mode")
	}
	return cfg, nil
}
