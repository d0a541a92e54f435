package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenBlacklist 保存已登出令牌的 JTI，直到令牌自然过期。
type TokenBlacklist interface {
	// Add 吊销 jti，记录在 exp 之后可被清除。
	Add(ctx context.Context, jti string, exp time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// ErrTokenRevoked 令牌已登出。
var ErrTokenRevoked = errors.New("JWT 已被吊销")

// Revoke 吊销 claims 对应的令牌。blacklist 为 nil 或令牌无过期时间时什么也不做。
func Revoke(ctx context.Context, blacklist TokenBlacklist, claims *Claims) error {
	if blacklist == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	if claims.ID == "" {
		return errors.New("JWT 缺少 JTI (ID) 声明，无法吊销")
	}
	return blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

// checkRevoked 在 blacklist 非 nil 时检查 claims 是否已被吊销。黑名单不可用时按失败处理。
func checkRevoked(ctx context.Context, blacklist TokenBlacklist, claims *Claims) error {
	if blacklist == nil {
		return nil
	}
	if claims.ID == "" {
		return errors.New("JWT 缺少 JTI (ID) 声明，无法检查黑名单")
	}
	revoked, err := blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("检查 Token 黑名单失败: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}
