package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *presence.Hub, *metrics.Metrics, string) {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics("test")
	hub := presence.NewHub(presence.Config{}, logger)
	hub.SetMetrics(m)

	manager := NewManager(hub, cfg, logger)
	manager.SetMetrics(&m.WebSocket)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		manager.HandleConnection(w, r, r.URL.Query().Get("username"))
	}))
	t.Cleanup(ts.Close)

	return manager, hub, m, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestManagerCloseRunsLeavePath(t *testing.T) {
	manager, hub, m, url := newTestManager(t, DefaultConfig())

	connA := dial(t, url+"?username=Alice", nil)
	readEvent(t, connA)
	connB := dial(t, url+"?username=Bob", nil)
	readEvent(t, connB)

	assert.Equal(t, 2, manager.GetClientCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WebSocket.ActiveConnections))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, manager.Close(ctx))

	sessions, _ := hub.Stats()
	assert.Equal(t, 0, sessions)
	assert.Equal(t, 0, manager.GetClientCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.WebSocket.ActiveConnections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Presence.EventsBroadcast.WithLabelValues("userLeft")))

	for _, conn := range []*websocket.Conn{connA, connB} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var err error
		for err == nil {
			_, _, err = conn.ReadMessage()
		}
		assert.Error(t, err)
	}

	// new connections are refused once closing
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestManagerRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	_, _, m, url := newTestManager(t, cfg)

	sender := dial(t, url+"?username=Fast", nil)
	readEvent(t, sender)
	watcher := dial(t, url+"?username=Watcher", nil)
	readEvent(t, watcher)

	for i := 0; i < 5; i++ {
		require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"x":1,"y":1}`)))
	}

	move := readEvent(t, watcher)
	assert.Equal(t, models.EventCursorMove, move.Type)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WebSocket.RateLimitedMessages) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerOversizedMessageClosesConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 64
	_, hub, _, url := newTestManager(t, cfg)

	conn := dial(t, url, nil)
	readEvent(t, conn)

	payload := `{"x":1,"y":2,"pad":"` + strings.Repeat("a", 128) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

	assert.Eventually(t, func() bool {
		sessions, _ := hub.Stats()
		return sessions == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerCheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://cursors.example.com"}
	_, hub, m, url := newTestManager(t, cfg)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebSocket.UpgradeErrors))

	header.Set("Origin", "https://cursors.example.com")
	conn := dial(t, url, header)
	assert.Equal(t, models.EventInitialState, readEvent(t, conn).Type)

	sessions, _ := hub.Stats()
	assert.Equal(t, 1, sessions)
}

func TestClientSendAfterClose(t *testing.T) {
	manager := NewManager(presence.NewHub(presence.Config{}, zap.NewNop()), DefaultConfig(), zap.NewNop())
	client := &Client{ID: "c", Manager: manager, send: make(chan []byte, 1)}

	assert.True(t, client.IsOpen())
	assert.True(t, client.Send([]byte("one")))
	assert.False(t, client.Send([]byte("two")), "buffer full")

	client.closeSend()
	client.closeSend()
	assert.False(t, client.IsOpen())
	assert.False(t, client.Send([]byte("three")))
}
