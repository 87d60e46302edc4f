package relay

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRetention           = 5 * time.Minute
	DefaultSweepInterval       = 60 * time.Second
	DefaultTeardownConcurrency = 4
)

// Config holds the relay cache tuning knobs.
type Config struct {
	Retention           time.Duration
	SweepInterval       time.Duration
	RequestTimeout      time.Duration
	StreamPrefix        string
	TeardownConcurrency int
}

// DefaultConfig returns the built-in cache settings.
func DefaultConfig() Config {
	return Config{
		Retention:           DefaultRetention,
		SweepInterval:       DefaultSweepInterval,
		RequestTimeout:      DefaultRequestTimeout,
		StreamPrefix:        DefaultStreamPrefix,
		TeardownConcurrency: DefaultTeardownConcurrency,
	}
}

// LoadConfigFromEnv initialises a Config from environment variables, keeping
// defaults for anything unset.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	durations := []struct {
		name string
		dest *time.Duration
	}{
		{"ZOWIE_RELAY_RETENTION", &cfg.Retention},
		{"ZOWIE_RELAY_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"ZOWIE_RELAY_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.name))
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dest = parsed
	}

	if prefix, ok := os.LookupEnv("ZOWIE_RELAY_STREAM_PREFIX"); ok {
		cfg.StreamPrefix = strings.TrimSpace(prefix)
	}

	if raw := strings.TrimSpace(os.Getenv("ZOWIE_RELAY_TEARDOWN_CONCURRENCY")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZOWIE_RELAY_TEARDOWN_CONCURRENCY: %w", err)
		}
		cfg.TeardownConcurrency = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration can drive a Manager.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return errors.New("relay retention must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("relay sweep interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("relay request timeout must be positive")
	}
	if c.StreamPrefix == "" {
		return errors.New("relay stream prefix is required")
	}
	if c.TeardownConcurrency <= 0 {
		return errors.New("relay teardown concurrency must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = d.StreamPrefix
	}
	if c.TeardownConcurrency <= 0 {
		c.TeardownConcurrency = d.TeardownConcurrency
	}
	return c
}
