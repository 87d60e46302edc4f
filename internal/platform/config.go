package platform

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	// CapabilityRelay is the capability name under which the relay registers.
	CapabilityRelay = "relay"

	DefaultInternalPort = 8123
	DefaultRedisPrefix  = "zowie"
)

// Config describes the host platform for a bridge process.
type Config struct {
	RelayEnabled bool
	RelayURL     string
	InternalURL  string
	InternalPort int
	Cameras      []string
	Redis        RedisConfig
}

// RedisConfig selects the shared registry. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	DB       int
}

// Enabled reports whether a Redis registry is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		RelayEnabled: true,
		RelayURL:     strings.TrimSpace(os.Getenv("ZOWIE_RELAY_URL")),
		InternalURL:  strings.TrimSpace(os.Getenv("ZOWIE_INTERNAL_URL")),
		InternalPort: DefaultInternalPort,
		Cameras:      splitList(os.Getenv("ZOWIE_CAMERAS")),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("ZOWIE_PLATFORM_REDIS_ADDR")),
			Password: os.Getenv("ZOWIE_PLATFORM_REDIS_PASSWORD"),
			Prefix:   strings.TrimSpace(os.Getenv("ZOWIE_PLATFORM_REDIS_PREFIX")),
		},
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = DefaultRedisPrefix
	}

	if enabled := strings.TrimSpace(os.Getenv("ZOWIE_RELAY_ENABLED")); enabled != "" {
		parsed, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZOWIE_RELAY_ENABLED: %w", err)
		}
		cfg.RelayEnabled = parsed
	}

	if port := strings.TrimSpace(os.Getenv("ZOWIE_INTERNAL_PORT")); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZOWIE_INTERNAL_PORT: %w", err)
		}
		cfg.InternalPort = parsed
	}

	if db := strings.TrimSpace(os.Getenv("ZOWIE_PLATFORM_REDIS_DB")); db != "" {
		parsed, err := strconv.Atoi(db)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZOWIE_PLATFORM_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.InternalPort <= 0 || c.InternalPort > 65535 {
		return fmt.Errorf("internal port %d out of range", c.InternalPort)
	}
	if c.InternalURL != "" {
		parsed, err := url.Parse(c.InternalURL)
		if err != nil {
			return fmt.Errorf("parse ZOWIE_INTERNAL_URL: %w", err)
		}
		if parsed.Hostname() == "" {
			return errors.New("ZOWIE_INTERNAL_URL must include a host")
		}
	}
	if c.Redis.DB < 0 {
		return errors.New("redis db cannot be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
