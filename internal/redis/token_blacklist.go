package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"anon-chat/internal/auth"
)

const blacklistKeyPrefix = "revoked:"

// redisTokenBlacklist 为每个登出的 JTI 写一个带 TTL 的键，令牌过期后键随之消失。
type redisTokenBlacklist struct {
	client *redis.Client
}

// NewRedisTokenBlacklist 创建一个基于 Redis 的 auth.TokenBlacklist。
func NewRedisTokenBlacklist(client *redis.Client) auth.TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

// Add 吊销 jti。已过期的令牌会被 JWT 校验拒绝，不再写入。
func (r *redisTokenBlacklist) Add(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke jti %s: %w", jti, err)
	}
	return nil
}

// IsBlacklisted 检查 jti 是否已被吊销。
func (r *redisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check jti %s: %w", jti, err)
	}
	return n > 0, nil
}
