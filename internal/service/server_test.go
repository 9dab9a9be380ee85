package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/handlers"
	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/anatoly-dev/go-presence-gateway/pkg/websocket"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*models.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]models.EventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *recordingSink) {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics("test")
	metricsHandler := metrics.NewMetricsHandler(m, logger)

	hub := presence.NewHub(presence.Config{}, logger)
	hub.SetMetrics(m)
	sink := &recordingSink{}
	hub.AddSink(sink)

	manager := websocket.NewManager(hub, websocket.DefaultConfig(), logger)
	manager.SetMetrics(&m.WebSocket)

	server := NewServer(
		handlers.NewWebSocketHandler(manager, logger),
		handlers.NewHealthCheckHandler(hub, manager, logger),
		metricsHandler,
		NewPresenceService(hub, metricsHandler, logger),
		logger,
		&config.ServerConfig{Port: 8080},
	)
	server.presenceService.Start()

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return server, ts, sink
}

func TestServerRoutes(t *testing.T) {
	server, ts, _ := newTestServer(t)
	defer server.presenceService.Stop(context.Background())

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), "test_presence_sessions")
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",path="/ws"} 1`)
	assert.Contains(t, string(body), `test_http_response_status_code_total{status_code="501"} 1`)
}

func TestServerShutdownRunsLeavePath(t *testing.T) {
	server, ts, sink := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?username=Alice"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	// sinks are drained on shutdown, so the leave is already recorded
	assert.Equal(t, []models.EventType{models.EventUserJoined, models.EventUserLeft}, sink.types())
}
