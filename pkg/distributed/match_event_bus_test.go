package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEvent() *models.MatchmakingEvent {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.MatchmakingEvent{
		Type:      models.EventMatchCreated,
		PlayerIDs: []string{"alice", "bob"},
		Match: &models.Match{
			ID:        "m-1",
			Player1ID: "alice",
			Player2ID: "bob",
			CreatedAt: at,
			Status:    models.MatchStatusActive,
		},
		Timestamp: at,
	}
}

func TestMatchEventBus_Publish_Mock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bus := NewMatchEventBus(client, zap.NewNop(), "")
	bus.instanceID = "instance-a"

	event := sampleEvent()
	data, err := json.Marshal(envelope{Origin: "instance-a", Event: event})
	require.NoError(t, err)

	mock.ExpectPublish(DefaultEventChannel, data).SetVal(1)
	require.NoError(t, bus.Publish(context.Background(), event))

	mock.ExpectPublish(DefaultEventChannel, data).SetErr(errors.New("connection reset"))
	err = bus.Publish(context.Background(), event)
	assert.ErrorContains(t, err, "failed to publish event")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchEventBus_RoundTrip(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	bus := NewMatchEventBus(client, zap.NewNop(), "test:matchmaking:events")
	received := make(chan *models.MatchmakingEvent, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bus.Start(ctx, func(e *models.MatchmakingEvent) { received <- e })
	}()

	// 구독이 붙을 때까지 대기
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "test:matchmaking:events").Result()
		return err == nil && n["test:matchmaking:events"] > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, sampleEvent()))

	select {
	case e := <-received:
		assert.Equal(t, models.EventMatchCreated, e.Type)
		assert.Equal(t, "m-1", e.Match.ID)
		assert.Equal(t, []string{"alice", "bob"}, e.PlayerIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}

	bus.Stop()
	assert.NoError(t, <-done)
}
