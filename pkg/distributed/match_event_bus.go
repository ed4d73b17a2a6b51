package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"go.uber.org/zap"
)

const DefaultEventChannel = "matchmaking:events"

// envelope 발행 인스턴스 정보를 포함한 전송 단위
type envelope struct {
	Origin string                   `json:"origin"`
	Event  *models.MatchmakingEvent `json:"event"`
}

// MatchEventBus Redis Pub/Sub 기반 매칭 이벤트 전달.
// 모든 인스턴스가 구독하므로 플레이어가 어느 인스턴스에 연결돼 있어도 알림을 받는다.
type MatchEventBus struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	channel    string

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMatchEventBus(client *redis.Client, logger *zap.Logger, channel string) *MatchEventBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchEventBus{
		client:     client,
		logger:     logger,
		instanceID: uuid.NewString(),
		channel:    channel,
		stopChan:   make(chan struct{}),
	}
}

// Publish 이벤트 발행
func (b *MatchEventBus) Publish(ctx context.Context, event *models.MatchmakingEvent) error {
	data, err := json.Marshal(envelope{Origin: b.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Published matchmaking event",
		zap.String("type", string(event.Type)),
		zap.Strings("players", event.PlayerIDs))
	return nil
}

// Start 구독 후 수신 루프 실행 (Stop 또는 ctx 종료까지 블록)
func (b *MatchEventBus) Start(ctx context.Context, handler func(event *models.MatchmakingEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info("Matchmaking event bus started",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Event == nil {
				b.logger.Error("Failed to unmarshal event", zap.Error(err))
				continue
			}
			handler(env.Event)

		case <-b.stopChan:
			b.logger.Info("Matchmaking event bus stopped")
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop 수신 중지
func (b *MatchEventBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
