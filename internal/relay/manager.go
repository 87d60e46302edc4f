package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"zowie-bridge/internal/observability/logging"
	"zowie-bridge/internal/observability/metrics"
)

// Options wires a Manager to its collaborators. Zero Config fields fall back
// to DefaultConfig.
type Options struct {
	Config     Config
	Platform   Platform
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	Tracer     trace.Tracer
	Clock      clock.Clock
}

// Manager owns the conversion cache and its reaper.
type Manager struct {
	cfg      Config
	platform Platform
	locator  *Locator
	client   *Client
	logger   *slog.Logger
	metrics  *metrics.Recorder
	clock    clock.Clock

	mu       sync.Mutex
	entries  map[string]*ManagedConversion
	inflight singleflight.Group

	lifecycle sync.Mutex
	reaper    *reaperRun
}

// NewManager constructs a Manager. The reaper is not running until Start.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "relay")
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	cfg := opts.Config.withDefaults()
	return &Manager{
		cfg:      cfg,
		platform: opts.Platform,
		locator:  NewLocator(opts.Platform, logger),
		client:   NewClient(opts.HTTPClient, cfg.RequestTimeout, opts.Tracer, logger),
		logger:   logger,
		metrics:  recorder,
		clock:    clk,
		entries:  make(map[string]*ManagedConversion),
	}
}

// Available reports whether conversions can currently be requested.
func (m *Manager) Available(ctx context.Context) bool {
	return m.locator.Available(ctx)
}

// Addressing exposes the locator's resolved relay position.
func (m *Manager) Addressing(ctx context.Context) (Addressing, error) {
	return m.locator.Addressing(ctx)
}

// Convert returns the transport URL for source, registering it with the
// relay on a cache miss. ok is false when the relay is absent or refused the
// registration; nothing is cached in that case.
//
// Concurrent misses for the same source share one registration call. The
// registration is detached from ctx cancellation and bounded only by the
// request timeout.
func (m *Manager) Convert(ctx context.Context, source string) (string, bool) {
	if !m.locator.Available(ctx) {
		m.logger.Debug("relay not available, cannot convert stream")
		return "", false
	}

	id := DeriveIdentifier(m.cfg.StreamPrefix, source)
	ctx = logging.ContextWithConversionID(ctx, id)
	logger := logging.WithContext(ctx, m.logger)

	if transportURL, ok := m.touch(id); ok {
		m.metrics.ObserveCacheLookup(true)
		logger.Debug("reusing cached conversion")
		return transportURL, true
	}
	m.metrics.ObserveCacheLookup(false)

	result, err, _ := m.inflight.Do(id, func() (any, error) {
		// A registration that finished between the miss and here already
		// populated the cache.
		if transportURL, ok := m.touch(id); ok {
			return transportURL, nil
		}
		return m.register(context.WithoutCancel(ctx), id, source)
	})
	if err != nil {
		logger.Error("failed to register stream with relay", "error", err)
		return "", false
	}
	return result.(string), true
}

// ConvertCamera converts a camera resource through the relay's ffmpeg
// source. Missing resources are rejected without contacting the relay.
func (m *Manager) ConvertCamera(ctx context.Context, resourceID string) (string, bool) {
	if !m.locator.Available(ctx) {
		m.logger.Debug("relay not available, cannot convert camera")
		return "", false
	}
	if m.platform == nil || !m.platform.HasResource(ctx, resourceID) {
		m.logger.Error("camera resource not found", "resource_id", resourceID)
		return "", false
	}
	return m.Convert(ctx, CameraSource(resourceID))
}

func (m *Manager) touch(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return "", false
	}
	entry.LastUsedAt = m.clock.Now()
	return entry.TransportURL, true
}

func (m *Manager) register(ctx context.Context, id, source string) (string, error) {
	addressing, err := m.locator.Addressing(ctx)
	if err != nil {
		m.metrics.ObserveRegistration("failure")
		return "", err
	}
	if err := m.client.Register(ctx, addressing.ManagementURL, source, id); err != nil {
		m.metrics.ObserveRegistration("failure")
		return "", err
	}
	m.metrics.ObserveRegistration("success")

	transportURL := BuildTransportURL(addressing.TransportHost, addressing.TransportPort, id)
	m.mu.Lock()
	m.entries[id] = &ManagedConversion{
		Identifier:   id,
		Source:       source,
		TransportURL: transportURL,
		LastUsedAt:   m.clock.Now(),
	}
	size := len(m.entries)
	m.mu.Unlock()
	m.metrics.SetActiveConversions(size)

	logging.WithContext(ctx, m.logger).Info("created relay stream", "transport_url", transportURL)
	return transportURL, nil
}

// Deregister asks the relay to drop the stream. It does not touch the cache
// and never fails: the returned Outcome describes what happened and a
// failure has already been logged.
func (m *Manager) Deregister(ctx context.Context, id string) Outcome {
	outcome := Outcome{Identifier: id, Status: OutcomeRemoved}
	addressing, err := m.locator.Addressing(ctx)
	if err == nil {
		err = m.client.Deregister(ctx, addressing.ManagementURL, id)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome.Status = OutcomeAlreadyGone
	default:
		outcome.Status = OutcomeFailed
		outcome.Err = err
		m.logger.Warn("failed to delete relay stream", "conversion_id", id, "error", err)
	}
	m.metrics.ObserveDeregistration(outcome.Status.String())
	return outcome
}

// Remove evicts one cached conversion and deregisters it. ok is false when
// the identifier was not cached.
func (m *Manager) Remove(ctx context.Context, id string) (Outcome, bool) {
	m.mu.Lock()
	_, ok := m.entries[id]
	delete(m.entries, id)
	size := len(m.entries)
	m.mu.Unlock()
	if !ok {
		return Outcome{}, false
	}
	m.metrics.SetActiveConversions(size)
	m.metrics.ObserveEviction("removed", 1)
	return m.Deregister(ctx, id), true
}

// Snapshot returns the cached conversions ordered by identifier.
func (m *Manager) Snapshot() []ManagedConversion {
	m.mu.Lock()
	out := make([]ManagedConversion, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Len returns the number of cached conversions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Flush deregisters and drops every cached conversion, leaving the reaper
// as it is. It returns the number of entries removed.
func (m *Manager) Flush(ctx context.Context) int {
	m.mu.Lock()
	drained := make([]string, 0, len(m.entries))
	for id := range m.entries {
		drained = append(drained, id)
	}
	m.entries = make(map[string]*ManagedConversion)
	m.mu.Unlock()
	m.metrics.SetActiveConversions(0)

	if len(drained) == 0 {
		return 0
	}

	var group errgroup.Group
	group.SetLimit(m.cfg.TeardownConcurrency)
	for _, id := range drained {
		id := id
		group.Go(func() error {
			m.Deregister(ctx, id)
			return nil
		})
	}
	_ = group.Wait()

	m.metrics.ObserveEviction("teardown", len(drained))
	m.logger.Debug("cleaned up all managed streams", "count", len(drained))
	return len(drained)
}
