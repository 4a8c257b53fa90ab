// Package netmon tracks host connectivity. The host environment feeds it
// edge-triggered online/offline signals; the monitor fans them out to
// registered listeners such as the mutation queue replay and the audit sync
// pass.
package netmon

import (
	"context"
	"log/slog"
	"sync"
)

// Monitor observes connectivity transitions. Signals are edge-triggered:
// repeated SetOnline calls while already online fire nothing.
type Monitor struct {
	logger *slog.Logger

	mu        sync.Mutex
	online    bool
	onOnline  []func(context.Context)
	onOffline []func(context.Context)
}

// New creates a Monitor. The monitor starts in the online state, matching
// hosts that only deliver signals on transitions.
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		online: true,
	}
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a callback fired once per offline-to-online transition.
// Callbacks run synchronously in registration order; a slow callback delays
// the rest, so long work should be dispatched by the callback itself.
func (m *Monitor) OnOnline(fn func(context.Context)) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, fn)
	m.mu.Unlock()
}

// OnOffline registers a callback fired once per online-to-offline transition.
func (m *Monitor) OnOffline(fn func(context.Context)) {
	m.mu.Lock()
	m.onOffline = append(m.onOffline, fn)
	m.mu.Unlock()
}

// SetOnline records that connectivity was restored. Listeners fire only on
// the offline-to-online edge.
func (m *Monitor) SetOnline(ctx context.Context) {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return
	}
	m.online = true
	listeners := make([]func(context.Context), len(m.onOnline))
	copy(listeners, m.onOnline)
	m.mu.Unlock()

	m.logger.Info("connectivity restored")
	for _, fn := range listeners {
		fn(ctx)
	}
}

// SetOffline records that connectivity was lost. Listeners fire only on the
// online-to-offline edge.
func (m *Monitor) SetOffline(ctx context.Context) {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return
	}
	m.online = false
	listeners := make([]func(context.Context), len(m.onOffline))
	copy(listeners, m.onOffline)
	m.mu.Unlock()

	m.logger.Warn("connectivity lost")
	for _, fn := range listeners {
		fn(ctx)
	}
}
