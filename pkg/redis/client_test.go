package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestMirror(t *testing.T) (*PresenceMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mirror := NewPresenceMirrorWithClient(client, time.Minute, zap.NewNop())
	t.Cleanup(func() { _ = mirror.Close() })

	return mirror, mr
}

func event(eventType models.EventType, id, name string, x, y float64) *models.Event {
	return &models.Event{
		Type:     eventType,
		UserID:   id,
		Username: name,
		Position: &models.Position{X: x, Y: y},
		Color:    "#FF0000",
	}
}

func TestPresenceMirrorPublish(t *testing.T) {
	mirror, mr := setupTestMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, event(models.EventUserJoined, "a", "Alice", 0, 0)))
	require.NoError(t, mirror.Publish(ctx, event(models.EventUserJoined, "b", "Bob", 0, 0)))
	require.NoError(t, mirror.Publish(ctx, event(models.EventCursorMove, "a", "Alice", 10, 20)))

	raw, err := mr.Get(sessionPrefix + "a")
	require.NoError(t, err)

	var state models.UserState
	require.NoError(t, json.Unmarshal([]byte(raw), &state))
	assert.Equal(t, "Alice", state.Username)
	assert.Equal(t, &models.Position{X: 10, Y: 20}, state.CursorPosition)
	assert.Equal(t, time.Minute, mr.TTL(sessionPrefix+"a"))

	sessions, err := mirror.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, mirror.Publish(ctx, event(models.EventUserLeft, "a", "Alice", 10, 20)))
	assert.False(t, mr.Exists(sessionPrefix+"a"))

	sessions, err = mirror.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "b", sessions[0].UserID)
}

func TestPresenceMirrorPrunesExpiredSessions(t *testing.T) {
	mirror, mr := setupTestMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, event(models.EventUserJoined, "a", "Alice", 0, 0)))
	mr.Del(sessionPrefix + "a")

	sessions, err := mirror.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// the index set is gone once its last member is pruned
	assert.False(t, mr.Exists(sessionsKey))
}

func TestPresenceMirrorWatch(t *testing.T) {
	mirror, _ := setupTestMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []*models.Event
	subscribed := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- mirror.Watch(ctx, func(e *models.Event) {
			mu.Lock()
			received = append(received, e)
			mu.Unlock()
		})
	}()

	// publish until the subscriber is attached
	go func() {
		defer close(subscribed)
		for i := 0; i < 200; i++ {
			n, _ := mirror.client.PubSubNumSub(ctx, EventsChannel).Result()
			if n[EventsChannel] > 0 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	<-subscribed

	require.NoError(t, mirror.Publish(ctx, event(models.EventUserIdle, "a", "Alice", 1, 1)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0].Type == models.EventUserIdle
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestNewPresenceMirrorUnreachable(t *testing.T) {
	_, err := NewPresenceMirror(&config.RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}
