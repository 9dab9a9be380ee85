package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IdleMonitor periodically sweeps the hub and flips stale sessions to idle.
// Sessions go back to active only through inbound activity.
type IdleMonitor struct {
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIdleMonitor(hub *Hub, logger *zap.Logger) *IdleMonitor {
	return &IdleMonitor{
		hub:      hub,
		interval: hub.Config().SweepInterval,
		logger:   logger,
	}
}

func (m *IdleMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("Idle monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("threshold", m.hub.Config().IdleThreshold))
}

func (m *IdleMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	m.wg.Wait()
	m.logger.Info("Idle monitor stopped")
}

func (m *IdleMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *IdleMonitor) sweep() {
	start := time.Now()
	marked := m.hub.SweepIdle()

	if m.hub.metrics != nil {
		m.hub.metrics.IdleSweepDuration.Observe(time.Since(start).Seconds())
	}

	if marked > 0 {
		m.logger.Debug("Idle sweep finished", zap.Int("markedIdle", marked))
	}
}
