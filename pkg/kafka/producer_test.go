package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := models.ComposeEvent(models.EventCursorMove, models.UserState{
		UserID:         "user-1",
		Username:       "Alice",
		CursorPosition: &models.Position{X: 3, Y: 4},
		Color:          "#FF6B6B",
	})

	msg, err := buildMessage("presence-events", event, now)
	require.NoError(t, err)

	require.NotNil(t, msg.TopicPartition.Topic)
	assert.Equal(t, "presence-events", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("user-1"), msg.Key)
	assert.Equal(t, now, msg.Timestamp)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("cursorMove"), msg.Headers[0].Value)

	var decoded models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, *event, decoded)
}
