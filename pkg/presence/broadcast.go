package presence

import (
	"encoding/json"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"go.uber.org/zap"
)

// Broadcaster fans events out to the registry's live connections. Delivery is
// at most once per recipient: closed or saturated sockets are skipped.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.PresenceMetrics
}

func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger,
	}
}

func (b *Broadcaster) SetMetrics(metrics *metrics.PresenceMetrics) {
	b.metrics = metrics
}

// Broadcast sends event to every connection except excludeID (empty excludes
// nobody) and returns how many sockets accepted it.
func (b *Broadcaster) Broadcast(event *models.Event, excludeID string) int {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", zap.Error(err), zap.String("type", string(event.Type)))
		return 0
	}

	delivered := 0
	for _, r := range b.registry.recipients() {
		if r.id == excludeID {
			continue
		}
		if b.deliver(r.id, r.conn, msgBytes) {
			delivered++
		}
	}

	if b.metrics != nil {
		b.metrics.EventsBroadcast.WithLabelValues(string(event.Type)).Inc()
	}

	b.logger.Debug("Broadcast event",
		zap.String("type", string(event.Type)),
		zap.String("userID", event.UserID),
		zap.Int("delivered", delivered))

	return delivered
}

// SendTo delivers event to a single connection.
func (b *Broadcaster) SendTo(id string, event *models.Event) bool {
	conn, ok := b.registry.Connection(id)
	if !ok {
		return false
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", zap.Error(err), zap.String("type", string(event.Type)))
		return false
	}

	return b.deliver(id, conn, msgBytes)
}

func (b *Broadcaster) deliver(id string, conn Conn, msgBytes []byte) bool {
	if conn.IsOpen() && conn.Send(msgBytes) {
		return true
	}

	b.logger.Debug("Skipped delivery to connection", zap.String("userID", id))
	if b.metrics != nil {
		b.metrics.DeliveriesSkipped.Inc()
	}

	return false
}
