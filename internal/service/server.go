package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/handlers"
	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"go.uber.org/zap"
)

type Server struct {
	server          *http.Server
	wsHandler       *handlers.WebSocketHandler
	healthHandler   *handlers.HealthCheckHandler
	metricsHandler  *metrics.MetricsHandler
	presenceService *PresenceService
	logger          *zap.Logger
	cfg             *config.ServerConfig
}

func NewServer(
	wsHandler *handlers.WebSocketHandler,
	healthHandler *handlers.HealthCheckHandler,
	metricsHandler *metrics.MetricsHandler,
	presenceService *PresenceService,
	logger *zap.Logger,
	cfg *config.ServerConfig,
) *Server {
	return &Server{
		wsHandler:       wsHandler,
		healthHandler:   healthHandler,
		metricsHandler:  metricsHandler,
		presenceService: presenceService,
		logger:          logger,
		cfg:             cfg,
	}
}

// Handler returns the gateway routes, each wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.metricsHandler.Middleware("/ws", http.HandlerFunc(s.wsHandler.HandleConnection)))
	mux.Handle("/health", s.metricsHandler.Middleware("/health", http.HandlerFunc(s.healthHandler.HandleHealthCheck)))
	mux.Handle("/metrics", s.metricsHandler.Handler())
	return mux
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.presenceService.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return s.waitForShutdown(errCh)
}

func (s *Server) waitForShutdown(errCh <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		s.logger.Error("Server failed", zap.Error(serveErr))
	}

	shutdownTimeout := 30 * time.Second
	if s.cfg.ShutdownTimeout > 0 {
		shutdownTimeout = s.cfg.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down services", zap.Duration("timeout", shutdownTimeout))

	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}

// Shutdown closes every WebSocket connection through the normal leave path,
// stops the HTTP listener, then drains the presence service.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Performing controlled shutdown")

	if err := s.wsHandler.CloseConnections(ctx); err != nil {
		s.logger.Error("Error closing WebSocket connections", zap.Error(err))
	}

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.presenceService.Stop(ctx)

	if shutdownErr != nil {
		return shutdownErr
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}
