package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// SFU provider (token-credential flavor)
	SFUBaseURL   string `env:"SFU_BASE_URL" envDefault:"https://api.sfu.songjam.space"`
	SFUAccessKey string `env:"SFU_ACCESS_KEY"`
	SFUSecret    string `env:"SFU_SECRET"`

	// Mesh provider (room-URL flavor)
	MeshBaseURL string `env:"MESH_BASE_URL" envDefault:"https://api.mesh.songjam.space"`
	MeshAPIKey  string `env:"MESH_API_KEY"`

	TokenTTLSeconds         int    `env:"TOKEN_TTL_SECONDS" envDefault:"86400"`
	RequestTTLSeconds       int    `env:"REQUEST_TTL_SECONDS" envDefault:"900"`
	RoomAbandonAfterSeconds int    `env:"ROOM_ABANDON_AFTER_SECONDS" envDefault:"7200"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
}

// TokenTTL is the lifetime of a minted conferencing join credential.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// RequestTTL is how long a pending speaker request may sit unanswered
// before the cleanup job drops it.
func (c *Config) RequestTTL() time.Duration {
	return time.Duration(c.RequestTTLSeconds) * time.Second
}

// RoomAbandonAfter is how long an empty room may stay live before the
// cleanup job ends it.
func (c *Config) RoomAbandonAfter() time.Duration {
	return time.Duration(c.RoomAbandonAfterSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("SFU_SECRET", c.SFUSecret); err != nil {
			return err
		}
		if c.MeshAPIKey == "" {
			log.Warn().Msg("MESH_API_KEY is empty in production: mesh-provider rooms cannot be created")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
