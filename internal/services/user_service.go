package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/storage"
)

// MaxAliasLength 限制昵称长度（按字符计）。
const MaxAliasLength = 30

// UserService 定义了用户资料相关服务的接口。
type UserService interface {
	GetProfile(ctx context.Context, userID string) (*models.User, error)
	// SetAlias 设置昵称，空字符串表示清除。
	SetAlias(ctx context.Context, userID, alias string) (*models.User, error)
}

type userService struct {
	userRepo storage.UserRepository
	bus      realtime.Bus
	logger   *zap.Logger
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository, bus realtime.Bus, logger *zap.Logger) UserService {
	return &userService{userRepo: userRepo, bus: bus, logger: logger}
}

// GetProfile 返回当前用户的完整资料（包含屏蔽集合）。
func (s *userService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Store("获取用户资料", err)
	}
	return user, nil
}

// SetAlias 更新昵称。昵称只影响展示，不改变匿名标签。
func (s *userService) SetAlias(ctx context.Context, userID, alias string) (*models.User, error) {
	alias = strings.TrimSpace(alias)
	if utf8.RuneCountInString(alias) > MaxAliasLength {
		return nil, apperr.Invalid("alias must be at most %d characters", MaxAliasLength)
	}
	if strings.ContainsAny(alias, "()") {
		return nil, apperr.Invalid("alias must not contain parentheses")
	}
	if err := s.userRepo.UpdateAlias(ctx, userID, alias); err != nil {
		return nil, apperr.Store("更新昵称", err)
	}
	notify(ctx, s.bus, s.logger, models.UserTopic(userID))
	return s.GetProfile(ctx, userID)
}
