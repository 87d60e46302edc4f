package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"

	"zowie-bridge/internal/observability/logging"
	"zowie-bridge/internal/observability/metrics"
	"zowie-bridge/internal/testsupport/relaystub"
)

var errNoAddress = errors.New("no address available")

type fakePlatform struct {
	mu              sync.Mutex
	present         bool
	descriptor      *Descriptor
	internalURL     string
	internalErr     error
	resources       map[string]bool
	descriptorCalls int
}

func (p *fakePlatform) RelayPresent(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present
}

func (p *fakePlatform) RelayDescriptor(context.Context) (Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descriptorCalls++
	if p.descriptor == nil {
		return Descriptor{}, false
	}
	return *p.descriptor, true
}

func (p *fakePlatform) ResolveInternalURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.internalErr != nil {
		return "", p.internalErr
	}
	if p.internalURL == "" {
		return "", errNoAddress
	}
	return p.internalURL, nil
}

func (p *fakePlatform) HasResource(_ context.Context, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resources[id]
}

func (p *fakePlatform) setPresent(present bool) {
	p.mu.Lock()
	p.present = present
	p.mu.Unlock()
}

func (p *fakePlatform) setDescriptor(rawURL string) {
	p.mu.Lock()
	p.descriptor = &Descriptor{URL: rawURL}
	p.mu.Unlock()
}

// colocatedPlatform reports a relay at the stub's loopback URL and a LAN
// address for this host.
func colocatedPlatform(stub *relaystub.Relay) *fakePlatform {
	return &fakePlatform{
		present:     true,
		descriptor:  &Descriptor{URL: stub.BaseURL()},
		internalURL: "http://192.168.1.50:8123",
		resources:   map[string]bool{"camera.front_door": true},
	}
}

type managerFixture struct {
	manager  *Manager
	relay    *relaystub.Relay
	clock    *clock.Mock
	platform *fakePlatform
	metrics  *metrics.Recorder
}

func newManagerFixture(t *testing.T, stubOpts relaystub.Options, cfg Config) *managerFixture {
	t.Helper()
	stub := relaystub.Start(stubOpts)
	t.Cleanup(stub.Close)

	mock := clock.NewMock()
	platform := colocatedPlatform(stub)
	recorder := metrics.New()
	manager := NewManager(Options{
		Config:   cfg,
		Platform: platform,
		Logger:   logging.Discard(),
		Metrics:  recorder,
		Clock:    mock,
	})
	t.Cleanup(func() { manager.Stop(context.Background()) })
	return &managerFixture{manager: manager, relay: stub, clock: mock, platform: platform, metrics: recorder}
}

// redirectingClient sends every request to target regardless of the host in
// the URL, so relays configured under external hostnames still reach a stub.
func redirectingClient(t *testing.T, target string) *http.Client {
	t.Helper()
	parsed, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse stub url: %v", err)
	}
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, parsed.Host)
		},
	}
	t.Cleanup(transport.CloseIdleConnections)
	return &http.Client{Transport: transport}
}
