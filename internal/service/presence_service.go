package service

import (
	"context"
	"sync"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"go.uber.org/zap"
)

const systemMetricsInterval = 15 * time.Second

// PresenceService owns the background work around the hub: the idle sweep,
// the event sink queue and runtime metric sampling.
type PresenceService struct {
	hub            *presence.Hub
	idleMonitor    *presence.IdleMonitor
	metricsHandler *metrics.MetricsHandler
	logger         *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPresenceService(
	hub *presence.Hub,
	metricsHandler *metrics.MetricsHandler,
	logger *zap.Logger,
) *PresenceService {
	return &PresenceService{
		hub:            hub,
		idleMonitor:    presence.NewIdleMonitor(hub, logger),
		metricsHandler: metricsHandler,
		logger:         logger,
	}
}

func (s *PresenceService) Start() {
	s.logger.Info("Starting presence service")

	s.hub.StartSinks()
	s.idleMonitor.Start()

	if s.metricsHandler != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.metricsHandler.CollectSystemMetrics(ctx, systemMetricsInterval)
		}()
	}
}

// Stop halts the idle sweep and drains queued sink events. Call it after
// connections are closed so their userLeft events still reach the sinks.
func (s *PresenceService) Stop(ctx context.Context) {
	s.logger.Info("Stopping presence service")

	s.idleMonitor.Stop()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()

	s.hub.StopSinks(ctx)
}
