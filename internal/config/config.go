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
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL"`
	SQLitePath            string `env:"SQLITE_PATH" envDefault:"data/broadcast.db"`
	RedisURL              string `env:"REDIS_URL,required,notEmpty"`
	GatewayURL            string `env:"GATEWAY_URL,required,notEmpty"`
	GatewayToken          string `env:"GATEWAY_TOKEN"`
	GatewayTimeoutSeconds int    `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"15"`
	HandshakeKey          string `env:"HANDSHAKE_KEY"`
	EncryptionKey         string `env:"ENCRYPTION_KEY"`
	JWTSecret             string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTLHours       int    `env:"SESSION_TTL_HOURS" envDefault:"72"`
	DispatchSchedule      string `env:"DISPATCH_SCHEDULE" envDefault:"@every 1m"`
	DispatchConcurrency   int    `env:"DISPATCH_CONCURRENCY" envDefault:"4"`
	SendRatePerSec        int    `env:"SEND_RATE_PER_SEC" envDefault:"5"`
	LoginRateLimit        int    `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	NotifyBotToken        string `env:"NOTIFY_BOT_TOKEN"`
	NotifyChatID          int64  `env:"NOTIFY_CHAT_ID"`
	CORSOrigins           string `env:"CORS_ORIGINS"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UsePostgres reports whether the postgres repositories are selected.
// Without DATABASE_URL the sqlite file at SQLitePath is used.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func (c *Config) NotifyEnabled() bool {
	return c.NotifyBotToken != "" && c.NotifyChatID != 0
}

func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) Validate(isProduction bool) error {
	if c.HandshakeKey != "" && len(c.HandshakeKey) != 64 {
		return fmt.Errorf("HANDSHAKE_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}
	if c.SendRatePerSec < 1 {
		return fmt.Errorf("SEND_RATE_PER_SEC must be at least 1")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.HandshakeKey == "" {
			return fmt.Errorf("HANDSHAKE_KEY is required in production: handshakes must survive restarts and span instances")
		}

		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: account credentials will not be encrypted at rest")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.UsePostgres() {
			log.Warn().Str("path", c.SQLitePath).Msg("DATABASE_URL is empty in production: using local sqlite file")
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
