package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"anon-chat/internal/watermark"
)

const watermarkKeyPrefix = "watermarks:"

// redisWatermarkStore 每个用户设备（scope）一个 Hash，字段为会话水位键，值为毫秒时间戳。
type redisWatermarkStore struct {
	client *redis.Client
}

// NewRedisWatermarkStore 创建一个基于 Redis 的 watermark.Store。
func NewRedisWatermarkStore(client *redis.Client) watermark.Store {
	return &redisWatermarkStore{client: client}
}

// Get 读取水位，字段不存在时 ok 为 false。
func (s *redisWatermarkStore) Get(ctx context.Context, scope, key string) (time.Time, bool, error) {
	val, err := s.client.HGet(ctx, watermarkKeyPrefix+scope, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark %s/%s: %w", scope, key, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %s/%s: %w", scope, key, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Set 写入水位。
func (s *redisWatermarkStore) Set(ctx context.Context, scope, key string, t time.Time) error {
	if err := s.client.HSet(ctx, watermarkKeyPrefix+scope, key, t.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("set watermark %s/%s: %w", scope, key, err)
	}
	return nil
}
