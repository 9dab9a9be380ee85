package presence

import (
	"context"
	"sync"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"go.uber.org/zap"
)

// EventSink receives a copy of every broadcast presence event outside the hub
// lock. Implementations may do network I/O.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, event *models.Event) error
}

const sinkPublishTimeout = 5 * time.Second

type sinkDispatcher struct {
	sinks      []EventSink
	queue      chan *models.Event
	bufferSize int
	logger     *zap.Logger
	metrics    *metrics.SinkMetrics

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newSinkDispatcher(bufferSize int, logger *zap.Logger) *sinkDispatcher {
	return &sinkDispatcher{
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// AddSink registers a sink. Sinks must be added before StartSinks.
func (h *Hub) AddSink(sink EventSink) {
	h.dispatcher.mu.Lock()
	defer h.dispatcher.mu.Unlock()
	h.dispatcher.sinks = append(h.dispatcher.sinks, sink)
}

func (h *Hub) StartSinks() {
	h.dispatcher.start()
}

// StopSinks drains what is already queued, or gives up when ctx expires.
func (h *Hub) StopSinks(ctx context.Context) {
	h.dispatcher.stop(ctx)
}

func (d *sinkDispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || len(d.sinks) == 0 {
		return
	}

	d.running = true
	d.queue = make(chan *models.Event, d.bufferSize)
	d.done = make(chan struct{})
	go d.process(d.sinks, d.queue, d.done)
}

func (d *sinkDispatcher) stop(ctx context.Context) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	done := d.done
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-done:
		d.logger.Info("Event sinks stopped")
	case <-ctx.Done():
		d.logger.Warn("Timeout waiting for event sinks to drain")
	}
}

// enqueue never blocks: when the queue is full the event is dropped for the
// sinks only. Live clients already received it.
func (d *sinkDispatcher) enqueue(event *models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	select {
	case d.queue <- event:
		if d.metrics != nil {
			d.metrics.QueueSize.Set(float64(len(d.queue)))
		}
	default:
		d.logger.Warn("Event sink queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("userID", event.UserID))
		if d.metrics != nil {
			d.metrics.QueueDropped.Inc()
		}
	}
}

func (d *sinkDispatcher) process(sinks []EventSink, queue <-chan *models.Event, done chan struct{}) {
	defer close(done)

	for event := range queue {
		for _, sink := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
			err := sink.Publish(ctx, event)
			cancel()

			if err != nil {
				d.logger.Error("Failed to publish event to sink",
					zap.Error(err),
					zap.String("sink", sink.Name()),
					zap.String("type", string(event.Type)))
				if d.metrics != nil {
					d.metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
				}
				continue
			}

			if d.metrics != nil {
				d.metrics.EventsPublished.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
}
