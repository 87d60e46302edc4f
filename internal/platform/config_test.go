package platform

import (
	"reflect"
	"testing"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, name := range []string{
		"ZOWIE_RELAY_ENABLED", "ZOWIE_RELAY_URL", "ZOWIE_INTERNAL_URL", "ZOWIE_INTERNAL_PORT",
		"ZOWIE_CAMERAS", "ZOWIE_PLATFORM_REDIS_ADDR", "ZOWIE_PLATFORM_REDIS_PASSWORD",
		"ZOWIE_PLATFORM_REDIS_PREFIX", "ZOWIE_PLATFORM_REDIS_DB",
	} {
		t.Setenv(name, "")
	}

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.RelayEnabled {
		t.Fatal("expected relay to be enabled by default")
	}
	if cfg.InternalPort != DefaultInternalPort {
		t.Fatalf("expected default port, got %d", cfg.InternalPort)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("expected redis to be disabled by default")
	}
	if cfg.Redis.Prefix != DefaultRedisPrefix {
		t.Fatalf("expected default prefix, got %q", cfg.Redis.Prefix)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("ZOWIE_RELAY_ENABLED", "false")
	t.Setenv("ZOWIE_RELAY_URL", " http://relay.example.net:1984 ")
	t.Setenv("ZOWIE_INTERNAL_URL", "http://192.168.1.9:8123")
	t.Setenv("ZOWIE_INTERNAL_PORT", "9123")
	t.Setenv("ZOWIE_CAMERAS", "camera.front, ,camera.back ")
	t.Setenv("ZOWIE_PLATFORM_REDIS_ADDR", "redis:6379")
	t.Setenv("ZOWIE_PLATFORM_REDIS_PASSWORD", "pw")
	t.Setenv("ZOWIE_PLATFORM_REDIS_PREFIX", "home")
	t.Setenv("ZOWIE_PLATFORM_REDIS_DB", "2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	want := Config{
		RelayEnabled: false,
		RelayURL:     "http://relay.example.net:1984",
		InternalURL:  "http://192.168.1.9:8123",
		InternalPort: 9123,
		Cameras:      []string{"camera.front", "camera.back"},
		Redis:        RedisConfig{Addr: "redis:6379", Password: "pw", Prefix: "home", DB: 2},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestLoadConfigFromEnvErrors(t *testing.T) {
	cases := map[string]string{
		"ZOWIE_RELAY_ENABLED":     "maybe",
		"ZOWIE_INTERNAL_PORT":     "70000",
		"ZOWIE_INTERNAL_URL":      "/no-host",
		"ZOWIE_PLATFORM_REDIS_DB": "-1",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%q", name, value)
			}
		})
	}
}
