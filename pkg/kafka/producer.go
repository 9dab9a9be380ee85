package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const flushTimeout = 10 * time.Second

// Producer publishes presence events to a Kafka topic, keyed by user ID so
// every event of one session lands on the same partition.
type Producer struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
	metrics  *metrics.KafkaMetrics
	wg       sync.WaitGroup
	mutex    sync.Mutex
	closed   bool
}

func NewProducer(cfg *config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	producer := &Producer{
		producer: p,
		topic:    cfg.Topic,
		logger:   logger,
	}

	producer.wg.Add(1)
	go producer.handleEvents()

	return producer, nil
}

func (p *Producer) SetMetrics(metrics *metrics.KafkaMetrics) {
	p.metrics = metrics
}

func (p *Producer) Name() string {
	return "kafka"
}

// Publish enqueues the event with librdkafka. Delivery is reported
// asynchronously on the events channel.
func (p *Producer) Publish(ctx context.Context, event *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(p.topic, event, time.Now())
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return fmt.Errorf("kafka producer is closed")
	}

	if err := p.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}

	return nil
}

func buildMessage(topic string, event *models.Event, now time.Time) (*kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.UserID),
		Value:          value,
		Timestamp:      now,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

func (p *Producer) handleEvents() {
	defer p.wg.Done()

	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			p.handleDelivery(e)
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(e), zap.String("code", e.Code().String()))

			if p.metrics != nil {
				p.metrics.KafkaErrors.WithLabelValues(e.Code().String()).Inc()
			}
		default:
		}
	}
}

func (p *Producer) handleDelivery(msg *kafka.Message) {
	topic := p.topic
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}

	if err := msg.TopicPartition.Error; err != nil {
		p.logger.Error("Failed to deliver presence event",
			zap.Error(err),
			zap.String("topic", topic),
			zap.ByteString("key", msg.Key))

		if p.metrics != nil {
			p.metrics.DeliveryErrors.WithLabelValues(topic).Inc()
		}
		return
	}

	p.logger.Debug("Delivered presence event",
		zap.String("topic", topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.ByteString("key", msg.Key))

	if p.metrics != nil {
		p.metrics.MessagesDelivered.WithLabelValues(topic).Inc()
	}
}

// Close flushes outstanding messages and shuts the producer down.
func (p *Producer) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	p.mutex.Unlock()

	p.logger.Info("Stopping Kafka producer")

	if remaining := p.producer.Flush(int(flushTimeout.Milliseconds())); remaining > 0 {
		p.logger.Warn("Kafka producer closed with undelivered events", zap.Int("remaining", remaining))
	}

	p.producer.Close()
	p.wg.Wait()

	p.logger.Info("Kafka producer stopped")
}
