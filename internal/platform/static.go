package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/jackpal/gateway"
	"golang.org/x/text/cases"

	"zowie-bridge/internal/relay"
)

// ErrNoAddressAvailable reports that no LAN-reachable address for this host
// could be determined.
var ErrNoAddressAvailable = errors.New("no internal address available")

// StaticHost answers platform queries from process configuration.
type StaticHost struct {
	relayURL     string
	internalURL  string
	internalPort int
	logger       *slog.Logger

	mu           sync.RWMutex
	capabilities map[string]struct{}
	resources    map[string]struct{}

	// discover finds this host's LAN address when none is configured.
	discover func() (net.IP, error)
}

// NewStaticHost builds a StaticHost from cfg.
func NewStaticHost(cfg Config, logger *slog.Logger) *StaticHost {
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.InternalPort
	if port <= 0 {
		port = DefaultInternalPort
	}
	host := &StaticHost{
		relayURL:     cfg.RelayURL,
		internalURL:  cfg.InternalURL,
		internalPort: port,
		logger:       logger,
		capabilities: make(map[string]struct{}),
		resources:    make(map[string]struct{}),
		discover:     discoverLANAddress,
	}
	if cfg.RelayEnabled {
		host.AddCapability(CapabilityRelay)
	}
	host.AddResources(cfg.Cameras...)
	return host
}

// AddCapability registers a capability by case-folded name.
func (h *StaticHost) AddCapability(name string) {
	h.mu.Lock()
	h.capabilities[fold(name)] = struct{}{}
	h.mu.Unlock()
}

// RemoveCapability drops a capability.
func (h *StaticHost) RemoveCapability(name string) {
	h.mu.Lock()
	delete(h.capabilities, fold(name))
	h.mu.Unlock()
}

// HasCapability reports whether name is registered, ignoring case.
func (h *StaticHost) HasCapability(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.capabilities[fold(name)]
	return ok
}

// AddResources registers resource IDs such as cameras.
func (h *StaticHost) AddResources(ids ...string) {
	h.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		h.resources[fold(id)] = struct{}{}
	}
	h.mu.Unlock()
}

func (h *StaticHost) RelayPresent(context.Context) bool {
	return h.HasCapability(CapabilityRelay)
}

func (h *StaticHost) RelayDescriptor(context.Context) (relay.Descriptor, bool) {
	if h.relayURL == "" {
		return relay.Descriptor{}, false
	}
	return relay.Descriptor{URL: h.relayURL}, true
}

// ResolveInternalURL returns the configured internal URL, or builds one
// from the discovered LAN address and the internal port.
func (h *StaticHost) ResolveInternalURL(context.Context) (string, error) {
	if h.internalURL != "" {
		return h.internalURL, nil
	}
	ip, err := h.discover()
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(h.internalPort)), nil
}

func (h *StaticHost) HasResource(_ context.Context, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.resources[fold(id)]
	return ok
}

// discoverLANAddress prefers the interface that routes to the default
// gateway and falls back to the first private unicast address.
func discoverLANAddress() (net.IP, error) {
	if ip, err := gateway.DiscoverInterface(); err == nil && usableLANAddress(ip) {
		return ip, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: list interfaces: %v", ErrNoAddressAvailable, err)
	}
	var v6 net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipFromAddr(addr)
			if !usableLANAddress(ip) || !ip.IsPrivate() {
				continue
			}
			if ip.To4() != nil {
				return ip, nil
			}
			if v6 == nil {
				v6 = ip
			}
		}
	}
	if v6 != nil {
		return v6, nil
	}
	return nil, ErrNoAddressAvailable
}

func usableLANAddress(ip net.IP) bool {
	return ip != nil && !ip.IsLoopback() && !ip.IsUnspecified() && ip.IsGlobalUnicast()
}

func ipFromAddr(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func fold(name string) string {
	return cases.Fold().String(name)
}
