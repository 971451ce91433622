// Package connectivity watches the remote ledger and runs recovery hooks when it comes back
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boliseva-loan-ledger/internal/config"
)

// Pinger probes the remote ledger
type Pinger interface {
	Ping(ctx context.Context) error
}

// Hook runs after the remote ledger became reachable again
type Hook func(ctx context.Context)

// Monitor probes the remote ledger periodically. The node starts out assumed offline, so the
// first successful probe also runs the hooks and flushes anything queued before a restart.
type Monitor struct {
	pinger   Pinger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool

	mu    sync.Mutex
	hooks []Hook
}

func NewMonitor(cfg *config.ConnectivityConfig, pinger Pinger, logger *slog.Logger) *Monitor {
	return &Monitor{
		pinger:   pinger,
		logger:   logger,
		interval: cfg.ProbeInterval,
		timeout:  cfg.ProbeTimeout,
	}
}

// OnReconnect registers a hook run on every offline to online transition, in registration order
func (m *Monitor) OnReconnect(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Online reports the result of the last probe
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start probes every interval until ctx is canceled
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("Starting connectivity monitor", "interval", m.interval.String(), "timeout", m.timeout.String())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopping due to context cancellation.")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe, records the result and runs the hooks when the remote came back
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.pinger.Ping(probeCtx)
	online := err == nil
	was := m.online.Swap(online)

	switch {
	case online && !was:
		m.logger.Info("Remote ledger reachable, running recovery")
		m.runHooks(ctx)
	case !online && was:
		m.logger.Warn("Remote ledger unreachable, working offline", "error", err)
	case !online:
		m.logger.Debug("Remote ledger still unreachable", "error", err)
	}
	return online
}

func (m *Monitor) runHooks(ctx context.Context) {
	m.mu.Lock()
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.Unlock()

	for _, hook := range hooks {
		if ctx.Err() != nil {
			return
		}
		hook(ctx)
	}
}
