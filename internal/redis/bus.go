package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"anon-chat/internal/realtime"
)

const busChannelPrefix = "anonchat:"

// redisBus 通过 Redis Pub/Sub 在多个 apiserver 实例之间广播会话变化通知。
type redisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus 创建一个基于 Redis Pub/Sub 的 realtime.Bus。
func NewRedisBus(client *redis.Client, logger *zap.Logger) realtime.Bus {
	return &redisBus{client: client, logger: logger}
}

// Publish 发布一次变化通知。
func (b *redisBus) Publish(ctx context.Context, topic string) error {
	if err := b.client.Publish(ctx, busChannelPrefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 等待 Redis 确认订阅后才返回，之后发布的通知不会丢失。
func (b *redisBus) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	ps := b.client.Subscribe(ctx, busChannelPrefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				b.logger.Debug("close pubsub", zap.String("topic", topic), zap.Error(err))
			}
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
