package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/anatoly-dev/go-presence-gateway/pkg/websocket"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	hub     *presence.Hub
	manager *websocket.Manager
	server  *httptest.Server
	wsURL   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zap.NewNop()
	hub := presence.NewHub(presence.Config{}, logger)
	manager := websocket.NewManager(hub, websocket.DefaultConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWebSocketHandler(manager, logger).HandleConnection)
	mux.HandleFunc("/health", NewHealthCheckHandler(hub, manager, logger).HandleHealthCheck)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testServer{
		hub:     hub,
		manager: manager,
		server:  ts,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (s *testServer) dial(t *testing.T, query string) *gorilla.Conn {
	t.Helper()

	conn, resp, err := gorilla.DefaultDialer.Dial(s.wsURL+query, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *gorilla.Conn) models.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestNonUpgradeRequestIsRejected(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.server.URL + "/ws?username=Alice")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	sessions, _ := s.hub.Stats()
	assert.Equal(t, 0, sessions)
}

func TestPresenceScenario(t *testing.T) {
	s := newTestServer(t)

	connA := s.dial(t, "?username=Alice")
	initialA := readEvent(t, connA)
	assert.Equal(t, models.EventInitialState, initialA.Type)
	assert.Equal(t, "Alice", initialA.Username)
	require.Len(t, initialA.Users, 1)
	assert.Equal(t, initialA.UserID, initialA.Users[0].UserID)
	assert.Equal(t, "Alice", initialA.Users[0].Username)
	idA := initialA.UserID

	connB := s.dial(t, "")
	initialB := readEvent(t, connB)
	assert.Equal(t, models.EventInitialState, initialB.Type)
	assert.Equal(t, "Anonymous", initialB.Username)
	require.Len(t, initialB.Users, 2)
	idB := initialB.UserID
	assert.NotEqual(t, idA, idB)

	ids := []string{initialB.Users[0].UserID, initialB.Users[1].UserID}
	assert.ElementsMatch(t, []string{idA, idB}, ids)

	joined := readEvent(t, connA)
	assert.Equal(t, models.EventUserJoined, joined.Type)
	assert.Equal(t, idB, joined.UserID)
	assert.Equal(t, initialB.Color, joined.Color)

	require.NoError(t, connB.WriteMessage(gorilla.TextMessage, []byte(`{"x":10,"y":20}`)))

	move := readEvent(t, connA)
	assert.Equal(t, models.EventCursorMove, move.Type)
	assert.Equal(t, idB, move.UserID)
	assert.Equal(t, &models.Position{X: 10, Y: 20}, move.Position)

	require.NoError(t, connA.Close())

	// B got no echo of its own move: the next thing it sees is A leaving
	left := readEvent(t, connB)
	assert.Equal(t, models.EventUserLeft, left.Type)
	assert.Equal(t, idA, left.UserID)
	assert.Equal(t, "Alice", left.Username)

	assert.Eventually(t, func() bool {
		snapshot := s.hub.Snapshot()
		return len(snapshot) == 1 && snapshot[0].UserID == idB
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.manager.GetClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	s := newTestServer(t)

	connA := s.dial(t, "?username=Alice")
	readEvent(t, connA)
	connB := s.dial(t, "?username=Bob")
	readEvent(t, connB)
	readEvent(t, connA) // userJoined

	for _, payload := range []string{`{"foo":"bar"}`, `not json`, `{"x":"1","y":"2"}`} {
		require.NoError(t, connA.WriteMessage(gorilla.TextMessage, []byte(payload)))
	}
	require.NoError(t, connA.WriteMessage(gorilla.TextMessage, []byte(`{"x":1,"y":2}`)))

	move := readEvent(t, connB)
	assert.Equal(t, models.EventCursorMove, move.Type)
	assert.Equal(t, &models.Position{X: 1, Y: 2}, move.Position)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	conn := s.dial(t, "?username=Alice")
	readEvent(t, conn)

	resp, err := http.Get(s.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, healthResponse{Status: "ok", Sessions: 1, Idle: 0, Connections: 1}, body)
}
