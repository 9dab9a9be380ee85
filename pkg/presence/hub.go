package presence

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"go.uber.org/zap"
)

const (
	DefaultUsername      = "Anonymous"
	DefaultIdleThreshold = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

type Config struct {
	IdleThreshold     time.Duration
	SweepInterval     time.Duration
	DefaultUsername   string
	MaxUsernameLength int
	SinkBufferSize    int
}

func (c Config) withDefaults() Config {
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.DefaultUsername == "" {
		c.DefaultUsername = DefaultUsername
	}
	if c.SinkBufferSize <= 0 {
		c.SinkBufferSize = 1000
	}
	return c
}

// Hub serializes every read-modify-broadcast sequence on the registry behind a
// single mutex. Sends never block, so holding the lock across a broadcast is
// safe and keeps the event order identical for every recipient.
type Hub struct {
	mu          sync.Mutex
	registry    *Registry
	broadcaster *Broadcaster
	dispatcher  *sinkDispatcher
	logger      *zap.Logger
	metrics     *metrics.PresenceMetrics
	cfg         Config
	now         func() time.Time
}

func NewHub(cfg Config, logger *zap.Logger) *Hub {
	registry := NewRegistry()
	cfg = cfg.withDefaults()

	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, logger),
		dispatcher:  newSinkDispatcher(cfg.SinkBufferSize, logger),
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = &m.Presence
	h.broadcaster.SetMetrics(&m.Presence)
	h.dispatcher.metrics = &m.Sinks
}

// SetClock replaces the time source used for activity and idle checks.
func (h *Hub) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

func (h *Hub) Config() Config {
	return h.cfg
}

// ResolveUsername trims the requested display name, caps its length and falls
// back to the default when nothing is left.
func (h *Hub) ResolveUsername(requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		return h.cfg.DefaultUsername
	}

	if limit := h.cfg.MaxUsernameLength; limit > 0 && utf8.RuneCountInString(name) > limit {
		name = string([]rune(name)[:limit])
	}

	return name
}

// Join registers a new session for conn, sends it the initial state and
// announces it to everybody else.
func (h *Hub) Join(id, requestedName string, conn Conn) models.UserState {
	username := h.ResolveUsername(requestedName)
	color := AssignColor()

	h.mu.Lock()
	defer h.mu.Unlock()

	session := h.registry.Create(id, username, color, conn, h.now())
	self := session.State()

	h.broadcaster.SendTo(id, models.ComposeInitialState(self, h.registry.Snapshot()))
	h.emit(models.ComposeEvent(models.EventUserJoined, self), id)
	h.updateGauges()

	h.logger.Info("User joined",
		zap.String("userID", id),
		zap.String("username", username),
		zap.String("color", color),
		zap.Int("sessions", h.registry.Len()))

	return self
}

// HandleMessage applies one inbound payload from session id. Malformed
// payloads return an error wrapping models.ErrMalformedUpdate and change nothing.
func (h *Hub) HandleMessage(id string, data []byte) error {
	update, err := models.ParseCursorUpdate(data)
	if err != nil {
		if h.metrics != nil {
			h.metrics.MalformedMessages.Inc()
		}
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.registry.Get(id)
	if !ok {
		return nil
	}

	now := h.now()
	if h.registry.TouchActivity(id, now) {
		h.emit(models.ComposeEvent(models.EventUserActive, session.State()), "")
		h.updateGauges()
	}

	h.registry.UpdatePosition(id, update.X, update.Y, now)
	h.emit(models.ComposeEvent(models.EventCursorMove, session.State()), id)

	return nil
}

// Leave removes session id and announces the departure. Calling it for an
// unknown id is a no-op.
func (h *Hub) Leave(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.registry.Remove(id)
	if !ok {
		return false
	}

	h.emit(models.ComposeEvent(models.EventUserLeft, session.State()), "")
	h.updateGauges()

	h.logger.Info("User left",
		zap.String("userID", id),
		zap.String("username", session.Username),
		zap.Int("sessions", h.registry.Len()))

	return true
}

// SweepIdle marks every stale session idle and returns how many changed.
func (h *Hub) SweepIdle() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	marked := 0
	for _, id := range h.registry.IDs() {
		if !h.registry.MarkIdleIfStale(id, now, h.cfg.IdleThreshold) {
			continue
		}

		session, _ := h.registry.Get(id)
		h.emit(models.ComposeEvent(models.EventUserIdle, session.State()), "")
		marked++

		h.logger.Debug("User became idle", zap.String("userID", id))
	}

	if marked > 0 {
		h.updateGauges()
	}

	return marked
}

func (h *Hub) Snapshot() []models.UserState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

func (h *Hub) Session(id string) (models.UserState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.registry.Get(id)
	if !ok {
		return models.UserState{}, false
	}
	return session.State(), true
}

// Stats returns the number of live and idle sessions.
func (h *Hub) Stats() (sessions int, idle int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len(), h.registry.IdleCount()
}

// emit must be called with h.mu held.
func (h *Hub) emit(event *models.Event, excludeID string) {
	h.broadcaster.Broadcast(event, excludeID)
	h.dispatcher.enqueue(event)
}

func (h *Hub) updateGauges() {
	if h.metrics == nil {
		return
	}
	h.metrics.Sessions.Set(float64(h.registry.Len()))
	h.metrics.IdleSessions.Set(float64(h.registry.IdleCount()))
}
