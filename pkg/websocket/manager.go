package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrManagerClosed = errors.New("websocket manager is closed")

type Config struct {
	SendBufferSize    int
	MaxMessageSize    int64
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func DefaultConfig() Config {
	return Config{
		SendBufferSize:    256,
		MaxMessageSize:    4096,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 60,
		Burst:             20,
	}
}

// Manager owns the live sockets. It upgrades requests, binds each socket to a
// presence session and runs the per-connection pumps.
type Manager struct {
	hub      *presence.Hub
	clients  map[string]*Client
	mutex    sync.RWMutex
	closing  bool
	wg       sync.WaitGroup
	logger   *zap.Logger
	upgrader websocket.Upgrader
	cfg      Config
	metrics  *metrics.WebSocketMetrics
}

func NewManager(hub *presence.Hub, cfg Config, logger *zap.Logger) *Manager {
	m := &Manager{
		hub:     hub,
		clients: make(map[string]*Client),
		logger:  logger,
		cfg:     cfg,
	}

	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     m.checkOrigin,
	}

	return m
}

func (m *Manager) SetMetrics(metrics *metrics.WebSocketMetrics) {
	m.metrics = metrics
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range m.cfg.AllowedOrigins {
		if strings.EqualFold(origin, strings.TrimSpace(allowed)) {
			return true
		}
	}

	m.logger.Warn("Rejected WebSocket origin", zap.String("origin", origin))
	return false
}

// HandleConnection upgrades the request and opens a presence session for it.
// The caller has already checked that r is an upgrade request.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade to WebSocket", zap.Error(err))

		if m.metrics != nil {
			m.metrics.UpgradeErrors.Inc()
		}

		return
	}

	client := m.newClient(conn)

	if err := m.addClient(client); err != nil {
		m.logger.Warn("Rejecting connection during shutdown", zap.String("clientID", client.ID))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// the initial state is queued on client.send before the pumps start
	m.hub.Join(client.ID, username, client)

	go client.writePump()
	go client.readPump()
}

func (m *Manager) newClient(conn *websocket.Conn) *Client {
	client := &Client{
		ID:         uuid.New().String(),
		Connection: conn,
		send:       make(chan []byte, m.cfg.SendBufferSize),
		Manager:    m,
		Connected:  time.Now(),
	}

	if m.cfg.MessagesPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(m.cfg.MessagesPerSecond), m.cfg.Burst)
	}

	return client
}

func (m *Manager) addClient(client *Client) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closing {
		return ErrManagerClosed
	}

	m.clients[client.ID] = client
	m.wg.Add(1)

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(len(m.clients)))
		m.metrics.ConnectionsTotal.Inc()
	}

	return nil
}

// removeClient runs the close path once per connection: the session leaves
// the hub, then the socket's send queue is shut.
func (m *Manager) removeClient(client *Client) {
	m.hub.Leave(client.ID)

	m.mutex.Lock()
	delete(m.clients, client.ID)

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(len(m.clients)))
		m.metrics.ConnectionDuration.Observe(time.Since(client.Connected).Seconds())
	}

	m.mutex.Unlock()

	client.closeSend()
	m.wg.Done()
}

func (m *Manager) GetClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Close sends a close frame to every connection and waits for their close
// paths to finish, or for ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.logger.Info("Closing WebSocket manager")

	m.mutex.Lock()
	m.closing = true
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mutex.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, client := range clients {
		client.Connection.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"), deadline)
		client.Connection.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("WebSocket manager closed", zap.Int("closedConnections", len(clients)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
