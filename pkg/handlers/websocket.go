package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/anatoly-dev/go-presence-gateway/pkg/websocket"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	wsManager *websocket.Manager
	logger    *zap.Logger
	metrics   *metrics.WebSocketMetrics
}

func NewWebSocketHandler(wsManager *websocket.Manager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		logger:    logger,
	}
}

func (h *WebSocketHandler) SetMetrics(metrics *metrics.WebSocketMetrics) {
	h.metrics = metrics
}

// HandleConnection answers plain HTTP requests with 501 and hands upgrade
// requests to the manager. The display name comes from the username query
// parameter.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if !gorilla.IsWebSocketUpgrade(r) {
		h.logger.Debug("Rejected non-upgrade request",
			zap.String("method", r.Method),
			zap.String("remoteAddr", r.RemoteAddr))

		if h.metrics != nil {
			h.metrics.UpgradeErrors.Inc()
		}

		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	username := r.URL.Query().Get("username")

	h.logger.Info("WebSocket connection request",
		zap.String("username", username),
		zap.String("remoteAddr", r.RemoteAddr))
	h.wsManager.HandleConnection(w, r, username)
}

func (h *WebSocketHandler) CloseConnections(ctx context.Context) error {
	h.logger.Info("Closing all WebSocket connections")
	return h.wsManager.Close(ctx)
}

type HealthCheckHandler struct {
	hub       *presence.Hub
	wsManager *websocket.Manager
	logger    *zap.Logger
}

func NewHealthCheckHandler(hub *presence.Hub, wsManager *websocket.Manager, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		hub:       hub,
		wsManager: wsManager,
		logger:    logger,
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Idle        int    `json:"idle"`
	Connections int    `json:"connections"`
}

func (h *HealthCheckHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	sessions, idle := h.hub.Stats()
	connections := h.wsManager.GetClientCount()
	h.logger.Debug("Health check", zap.Int("sessions", sessions), zap.Int("idle", idle))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Sessions:    sessions,
		Idle:        idle,
		Connections: connections,
	}); err != nil {
		h.logger.Error("Failed to write health response", zap.Error(err))
	}
}
