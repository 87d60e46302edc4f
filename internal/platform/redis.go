package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"zowie-bridge/internal/relay"
)

const (
	redisRelayURLField = "url"
	redisPingTimeout   = 5 * time.Second
)

// RedisHost reads the platform registry from Redis:
//
//	<prefix>:capabilities   set of case-folded capability names
//	<prefix>:relay          hash, field "url" holds the relay base URL
//	<prefix>:internal_url   string, this deployment's LAN-reachable URL
//	<prefix>:resources      set of case-folded resource IDs
//
// Lookup failures are logged and reported as absence.
type RedisHost struct {
	client   redis.UniversalClient
	prefix   string
	fallback *StaticHost
	logger   *slog.Logger
}

// NewRedisHost connects to the registry and verifies it answers. fallback,
// when non-nil, resolves the internal URL if Redis holds none.
func NewRedisHost(ctx context.Context, cfg RedisConfig, fallback *StaticHost, logger *slog.Logger) (*RedisHost, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{addr},
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisHost{client: client, prefix: prefix, fallback: fallback, logger: logger}, nil
}

func (h *RedisHost) key(name string) string {
	return h.prefix + ":" + name
}

func (h *RedisHost) RelayPresent(ctx context.Context) bool {
	present, err := h.client.SIsMember(ctx, h.key("capabilities"), fold(CapabilityRelay)).Result()
	if err != nil {
		h.logger.Warn("redis capability lookup failed", "error", err)
		return false
	}
	return present
}

func (h *RedisHost) RelayDescriptor(ctx context.Context) (relay.Descriptor, bool) {
	url, err := h.client.HGet(ctx, h.key("relay"), redisRelayURLField).Result()
	if errors.Is(err, redis.Nil) {
		return relay.Descriptor{}, false
	}
	if err != nil {
		h.logger.Warn("redis relay lookup failed", "error", err)
		return relay.Descriptor{}, false
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return relay.Descriptor{}, false
	}
	return relay.Descriptor{URL: url}, true
}

func (h *RedisHost) ResolveInternalURL(ctx context.Context) (string, error) {
	url, err := h.client.Get(ctx, h.key("internal_url")).Result()
	switch {
	case err == nil && strings.TrimSpace(url) != "":
		return strings.TrimSpace(url), nil
	case err != nil && !errors.Is(err, redis.Nil):
		return "", fmt.Errorf("redis internal url lookup: %w", err)
	}
	if h.fallback != nil {
		return h.fallback.ResolveInternalURL(ctx)
	}
	return "", ErrNoAddressAvailable
}

func (h *RedisHost) HasResource(ctx context.Context, id string) bool {
	present, err := h.client.SIsMember(ctx, h.key("resources"), fold(id)).Result()
	if err != nil {
		h.logger.Warn("redis resource lookup failed", "resource_id", id, "error", err)
		return false
	}
	return present
}

// Publish writes the static configuration into the shared registry so other
// bridge processes see this host's relay and cameras. Empty values are
// skipped; nothing is removed.
func (h *RedisHost) Publish(ctx context.Context, cfg Config) error {
	pipe := h.client.Pipeline()
	if cfg.RelayEnabled {
		pipe.SAdd(ctx, h.key("capabilities"), fold(CapabilityRelay))
	}
	if cfg.RelayURL != "" {
		pipe.HSet(ctx, h.key("relay"), redisRelayURLField, cfg.RelayURL)
	}
	if cfg.InternalURL != "" {
		pipe.Set(ctx, h.key("internal_url"), cfg.InternalURL, 0)
	}
	if len(cfg.Cameras) > 0 {
		members := make([]any, 0, len(cfg.Cameras))
		for _, id := range cfg.Cameras {
			members = append(members, fold(id))
		}
		pipe.SAdd(ctx, h.key("resources"), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish platform registry: %w", err)
	}
	return nil
}

// Ping checks the registry connection.
func (h *RedisHost) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *RedisHost) Close() error {
	return h.client.Close()
}
