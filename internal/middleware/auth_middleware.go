package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"anon-chat/internal/auth"
	"anon-chat/internal/config"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

const (
	// UserIDKey 是用于在上下文中存储用户ID的键。
	UserIDKey contextKey = "userID"
	// RoleKey 是用于在上下文中存储用户角色的键。
	RoleKey contextKey = "role"
	// ClaimsKey 保存完整的 JWT 声明，登出时需要 JTI 和过期时间。
	ClaimsKey contextKey = "claims"
	// DeviceIDKey 是用于在上下文中存储设备ID的键。
	DeviceIDKey contextKey = "deviceID"
)

// DeviceIDHeader 标识发起请求的设备，未读水位按设备保存。
const DeviceIDHeader = "X-Device-ID"

// AuthMiddleware 是一个 HTTP 中间件，用于验证 JWT 并将用户信息添加到上下文中。
// WebSocket 握手无法设置请求头，因此也接受 access_token 查询参数。
func AuthMiddleware(authCfg config.AuthConfig, blacklist auth.TokenBlacklist, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractToken(r)
			if !ok {
				writeUnauthorized(w, "请求未包含有效的授权令牌")
				return
			}

			claims, err := auth.ValidateToken(r.Context(), tokenString, authCfg.JWTSecretKey, blacklist)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				writeUnauthorized(w, "令牌无效")
				return
			}

			device := r.Header.Get(DeviceIDHeader)
			if device == "" {
				device = r.URL.Query().Get("device_id")
			}
			if device == "" {
				// 未声明设备时该用户的请求共用一个默认设备，水位仍按用户隔离
				device = "default"
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, DeviceIDKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
			return "", false
		}
		return headerParts[1], true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserIDFromContext 从上下文中获取用户ID。
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetRoleFromContext 从上下文中获取用户角色。
func GetRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// GetClaimsFromContext 从上下文中获取 JWT 声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetDeviceIDFromContext 从上下文中获取设备ID。
func GetDeviceIDFromContext(ctx context.Context) string {
	device, _ := ctx.Value(DeviceIDKey).(string)
	return device
}
