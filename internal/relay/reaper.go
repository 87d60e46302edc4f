package relay

import "context"

// reaperRun is one reaper goroutine. It clears itself from the Manager on
// exit, so a reaper whose parent context ended no longer counts as running.
type reaperRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the reaper, which sweeps idle conversions once per sweep
// interval. Calling Start while the reaper runs is a no-op. The ticker is
// created before Start returns.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.reaper != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	run := &reaperRun{cancel: cancel, done: make(chan struct{})}
	ticker := m.clock.Ticker(m.cfg.SweepInterval)
	go func() {
		defer func() {
			ticker.Stop()
			m.lifecycle.Lock()
			if m.reaper == run {
				m.reaper = nil
			}
			m.lifecycle.Unlock()
			close(run.done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				// A sweep that has started finishes its deregistrations even if
				// Stop arrives; evicted entries are already out of the cache.
				m.Sweep(context.WithoutCancel(workerCtx))
			}
		}
	}()

	m.reaper = run
	m.logger.Debug("relay reaper started", "interval", m.cfg.SweepInterval, "retention", m.cfg.Retention)
}

// Running reports whether the reaper is active.
func (m *Manager) Running() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.reaper != nil
}

// Stop waits for the reaper to exit and then deregisters and clears every
// cached conversion. It is safe to call when Start was never called.
func (m *Manager) Stop(ctx context.Context) {
	m.lifecycle.Lock()
	run := m.reaper
	m.reaper = nil
	m.lifecycle.Unlock()

	if run != nil {
		run.cancel()
		<-run.done
	}
	m.Flush(ctx)
}

// Sweep deregisters and evicts every conversion idle longer than the
// retention window and returns how many were evicted. Entries leave the
// cache before the relay is contacted, so a failed deregistration never
// keeps an idle entry alive.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.Lock()
	var idle []string
	for id, entry := range m.entries {
		if now.Sub(entry.LastUsedAt) > m.cfg.Retention {
			idle = append(idle, id)
			delete(m.entries, id)
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}
	m.metrics.SetActiveConversions(size)
	for _, id := range idle {
		m.Deregister(ctx, id)
		m.logger.Info("cleaned up inactive stream", "conversion_id", id)
	}
	m.metrics.ObserveEviction("idle", len(idle))
	return len(idle)
}
