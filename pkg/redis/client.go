package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	sessionPrefix = "presence:session:"
	sessionsKey   = "presence:sessions"
	EventsChannel = "presence:events"
)

// PresenceMirror copies presence events into Redis: live sessions as JSON
// keys plus an index set, and every event on a pub/sub channel. It is an
// observation mirror for tooling; the gateway never reads its own state back.
type PresenceMirror struct {
	client     *redis.Client
	logger     *zap.Logger
	sessionTTL time.Duration
}

func NewPresenceMirror(cfg *config.RedisConfig, logger *zap.Logger) (*PresenceMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewPresenceMirrorWithClient(client, cfg.SessionTTL, logger), nil
}

func NewPresenceMirrorWithClient(client *redis.Client, sessionTTL time.Duration, logger *zap.Logger) *PresenceMirror {
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}

	return &PresenceMirror{
		client:     client,
		logger:     logger,
		sessionTTL: sessionTTL,
	}
}

func (m *PresenceMirror) Name() string {
	return "redis"
}

func (m *PresenceMirror) Publish(ctx context.Context, event *models.Event) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	sessionKey := sessionPrefix + event.UserID
	pipe := m.client.Pipeline()

	if event.Type == models.EventUserLeft {
		pipe.Del(ctx, sessionKey)
		pipe.SRem(ctx, sessionsKey, event.UserID)
	} else {
		stateData, err := json.Marshal(stateFromEvent(event))
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}

		pipe.Set(ctx, sessionKey, stateData, m.sessionTTL)
		pipe.SAdd(ctx, sessionsKey, event.UserID)
		pipe.Expire(ctx, sessionsKey, m.sessionTTL)
	}

	pipe.Publish(ctx, EventsChannel, eventData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror event in Redis: %w", err)
	}

	return nil
}

func stateFromEvent(event *models.Event) models.UserState {
	return models.UserState{
		UserID:         event.UserID,
		Username:       event.Username,
		CursorPosition: event.Position,
		Color:          event.Color,
		IsIdle:         event.IsIdle,
	}
}

// Sessions returns the mirrored sessions. Index entries whose key has expired
// are pruned on the way.
func (m *PresenceMirror) Sessions(ctx context.Context) ([]models.UserState, error) {
	ids, err := m.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session IDs: %w", err)
	}

	if len(ids) == 0 {
		return []models.UserState{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionPrefix+id)
	}

	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	sessions := make([]models.UserState, 0, len(values))
	var stale []interface{}
	for i, val := range values {
		if val == nil {
			stale = append(stale, ids[i])
			continue
		}

		strVal, ok := val.(string)
		if !ok {
			m.logger.Warn("Invalid session data type in Redis", zap.Any("value", val))
			continue
		}

		var state models.UserState
		if err := json.Unmarshal([]byte(strVal), &state); err != nil {
			m.logger.Warn("Failed to unmarshal session data", zap.Error(err), zap.String("userID", ids[i]))
			continue
		}

		sessions = append(sessions, state)
	}

	if len(stale) > 0 {
		if err := m.client.SRem(ctx, sessionsKey, stale...).Err(); err != nil {
			m.logger.Warn("Failed to prune expired sessions", zap.Error(err))
		}
	}

	return sessions, nil
}

// Watch delivers mirrored events to fn until ctx is cancelled.
func (m *PresenceMirror) Watch(ctx context.Context, fn func(*models.Event)) error {
	pubsub := m.client.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventsChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m.handleRedisMessage(msg, fn)
		}
	}
}

func (m *PresenceMirror) handleRedisMessage(msg *redis.Message, fn func(*models.Event)) {
	var event models.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		m.logger.Warn("Failed to unmarshal mirrored event", zap.Error(err), zap.String("payload", msg.Payload))
		return
	}

	fn(&event)
}

func (m *PresenceMirror) Close() error {
	m.logger.Info("Closing Redis presence mirror")

	if err := m.client.Close(); err != nil {
		m.logger.Error("Error closing Redis client", zap.Error(err))
		return err
	}

	return nil
}
