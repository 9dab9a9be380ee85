package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WebSocketMetrics struct {
	ActiveConnections    prometheus.Gauge
	ConnectionsTotal     prometheus.Counter
	ConnectionDuration   prometheus.Histogram
	UnexpectedCloseCount prometheus.Counter
	UpgradeErrors        prometheus.Counter

	MessagesReceived    prometheus.Counter
	RateLimitedMessages prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	SendBufferOverflow  prometheus.Counter
}

type PresenceMetrics struct {
	Sessions          prometheus.Gauge
	IdleSessions      prometheus.Gauge
	EventsBroadcast   *prometheus.CounterVec
	DeliveriesSkipped prometheus.Counter
	MalformedMessages prometheus.Counter
	IdleSweepDuration prometheus.Histogram
}

type SinkMetrics struct {
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	QueueSize       prometheus.Gauge
	QueueDropped    prometheus.Counter
}

type KafkaMetrics struct {
	MessagesDelivered *prometheus.CounterVec
	DeliveryErrors    *prometheus.CounterVec
	KafkaErrors       *prometheus.CounterVec
}

type HttpMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ResponseStatusCode *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

type SystemMetrics struct {
	GoroutineCount prometheus.Gauge
}

// Metrics holds every collector, all registered on a dedicated registry so
// several instances can coexist in one process.
type Metrics struct {
	Registry  *prometheus.Registry
	WebSocket WebSocketMetrics
	Presence  PresenceMetrics
	Sinks     SinkMetrics
	Kafka     KafkaMetrics
	Http      HttpMetrics
	System    SystemMetrics
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,
		WebSocket: WebSocketMetrics{
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Number of open WebSocket connections",
			}),
			ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Total number of accepted WebSocket connections",
			}),
			ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_connection_duration_seconds",
				Help:      "Lifetime of WebSocket connections in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
			UnexpectedCloseCount: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_unexpected_close_total",
				Help:      "Connections closed without a normal close handshake",
			}),
			UpgradeErrors: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_upgrade_errors_total",
				Help:      "Requests rejected or failed during the WebSocket upgrade",
			}),
			MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_received_total",
				Help:      "Messages received from clients",
			}),
			RateLimitedMessages: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_rate_limited_messages_total",
				Help:      "Client messages dropped by the per-connection rate limiter",
			}),
			BytesSent: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_sent_total",
				Help:      "Bytes written to clients",
			}),
			BytesReceived: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_received_total",
				Help:      "Bytes received from clients",
			}),
			SendBufferOverflow: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_send_buffer_overflow_total",
				Help:      "Messages dropped because a client send buffer was full",
			}),
		},
		Presence: PresenceMetrics{
			Sessions: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "presence_sessions",
				Help:      "Number of live presence sessions",
			}),
			IdleSessions: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "presence_idle_sessions",
				Help:      "Number of live sessions currently marked idle",
			}),
			EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_events_broadcast_total",
				Help:      "Presence events broadcast, by event type",
			}, []string{"event_type"}),
			DeliveriesSkipped: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_deliveries_skipped_total",
				Help:      "Per-recipient deliveries skipped because the socket was closed or saturated",
			}),
			MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_malformed_messages_total",
				Help:      "Inbound messages dropped as malformed",
			}),
			IdleSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "presence_idle_sweep_duration_seconds",
				Help:      "Time spent in one idle sweep",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
			}),
		},
		Sinks: SinkMetrics{
			EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_published_total",
				Help:      "Presence events handed to an external sink, by sink",
			}, []string{"sink"}),
			PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_publish_errors_total",
				Help:      "Failed sink publications, by sink",
			}, []string{"sink"}),
			QueueSize: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sink_queue_size",
				Help:      "Events waiting to be published to sinks",
			}),
			QueueDropped: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_queue_dropped_total",
				Help:      "Events dropped because the sink queue was full",
			}),
		},
		Kafka: KafkaMetrics{
			MessagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_messages_delivered_total",
				Help:      "Presence events acknowledged by the Kafka broker, by topic",
			}, []string{"topic"}),
			DeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_delivery_errors_total",
				Help:      "Presence events the Kafka broker failed to acknowledge, by topic",
			}, []string{"topic"}),
			KafkaErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_errors_total",
				Help:      "Client-level Kafka errors, by error code",
			}, []string{"code"}),
		},
		Http: HttpMetrics{
			RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests, by method and path",
			}, []string{"method", "path"}),
			ResponseStatusCode: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_status_code_total",
				Help:      "HTTP responses, by status",
			}, []string{"status_code"}),
			RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request handling time",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
			}, []string{"path"}),
		},
		System: SystemMetrics{
			GoroutineCount: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_goroutine_count",
				Help:      "Number of running goroutines",
			}),
		},
	}

	return m
}
