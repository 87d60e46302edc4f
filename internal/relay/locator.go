package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// Locator resolves whether the relay is reachable and how to address it.
// Addressing for a present relay is resolved once and kept for the life of
// the Locator; the relay does not move while we run.
type Locator struct {
	platform Platform
	logger   *slog.Logger

	mu       sync.Mutex
	resolved *Addressing
}

// NewLocator returns a Locator backed by the host platform.
func NewLocator(platform Platform, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{platform: platform, logger: logger}
}

// Available reports whether the relay capability is registered with the
// host platform.
func (l *Locator) Available(ctx context.Context) bool {
	if l == nil || l.platform == nil {
		return false
	}
	return l.platform.RelayPresent(ctx)
}

// Addressing returns the relay's management URL and the transport host and
// port the appliance should dial. When the relay is absent a loopback
// placeholder is returned and nothing is memoized. A configured relay URL
// that does not parse is returned as an error.
func (l *Locator) Addressing(ctx context.Context) (Addressing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved != nil {
		return *l.resolved, nil
	}
	if !l.Available(ctx) {
		return fallbackAddressing(), nil
	}

	addressing, err := l.resolve(ctx)
	if err != nil {
		return Addressing{}, err
	}
	l.resolved = &addressing
	l.logger.Info("resolved relay addressing",
		"management_url", addressing.ManagementURL,
		"transport_host", addressing.TransportHost,
		"transport_port", addressing.TransportPort,
		"colocated", addressing.Colocated,
	)
	return addressing, nil
}

func (l *Locator) resolve(ctx context.Context) (Addressing, error) {
	descriptor, ok := l.platform.RelayDescriptor(ctx)
	if !ok || strings.TrimSpace(descriptor.URL) == "" {
		addressing := fallbackAddressing()
		addressing.TransportHost = l.lanHost(ctx)
		return addressing, nil
	}

	base := strings.TrimSpace(descriptor.URL)
	parsed, err := url.Parse(base)
	if err != nil {
		return Addressing{}, fmt.Errorf("parse relay url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return Addressing{}, fmt.Errorf("parse relay url: %q has no host", base)
	}

	if isLoopbackHost(host) {
		return Addressing{
			ManagementURL: base,
			TransportHost: l.lanHost(ctx),
			TransportPort: ColocatedTransportPort,
			Colocated:     true,
		}, nil
	}
	return Addressing{
		ManagementURL: base,
		TransportHost: host,
		TransportPort: ExternalTransportPort,
	}, nil
}

// lanHost is the address the appliance uses to reach a relay colocated with
// us. Loopback is an honest but non-functional placeholder.
func (l *Locator) lanHost(ctx context.Context) string {
	internal, err := l.platform.ResolveInternalURL(ctx)
	if err != nil {
		l.logger.Warn("no internal address available for colocated relay", "error", err)
		return loopbackHost
	}
	parsed, err := url.Parse(strings.TrimSpace(internal))
	if err != nil || parsed.Hostname() == "" {
		l.logger.Warn("internal address has no host", "internal_url", internal)
		return loopbackHost
	}
	return parsed.Hostname()
}

func fallbackAddressing() Addressing {
	return Addressing{
		ManagementURL: fmt.Sprintf("http://%s:%d", loopbackHost, ColocatedAPIPort),
		TransportHost: loopbackHost,
		TransportPort: ColocatedTransportPort,
		Colocated:     true,
	}
}
