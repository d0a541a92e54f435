package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"anon-chat/internal/apperr"
	"anon-chat/internal/auth"
	"anon-chat/internal/config"
	"anon-chat/internal/models"
	"anon-chat/internal/storage"
)

var (
	ErrUserAlreadyExists  = errors.New("邮箱已被注册")
	ErrInvalidCredentials = errors.New("无效的邮箱或密码")
)

const minPasswordLength = 6

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	// CreateUser 允许指定角色，仅供运维命令创建管理员使用。
	CreateUser(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

// authService 是 AuthService 的实现。
type authService struct {
	userRepo  storage.UserRepository
	blacklist auth.TokenBlacklist
	cfg       config.AuthConfig
	logger    *zap.Logger
}

// NewAuthService 创建一个新的 AuthService 实例。blacklist 可以为 nil，此时登出为空操作。
func NewAuthService(userRepo storage.UserRepository, blacklist auth.TokenBlacklist, cfg config.AuthConfig, logger *zap.Logger) AuthService {
	return &authService{userRepo: userRepo, blacklist: blacklist, cfg: cfg, logger: logger}
}

// Register 处理普通用户注册。
func (s *authService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	return s.CreateUser(ctx, name, email, password, models.RoleUser)
}

// CreateUser 校验输入、检查邮箱唯一后创建用户。
func (s *authService) CreateUser(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Invalid("email %q is not valid", email)
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Invalid("password must be at least %d characters", minPasswordLength)
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, apperr.Invalid("unknown role %q", role)
	}

	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Store("检查邮箱", err)
	}

	if len(password) > auth.MaxPasswordBytes {
		return nil, apperr.Invalid("password must be at most %d bytes", auth.MaxPasswordBytes)
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	newUser := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		return nil, apperr.Store("创建用户", err)
	}
	s.logger.Info("user registered", zap.String("user_id", newUser.ID), zap.String("role", string(role)))
	return newUser, nil
}

// Login 校验凭证并签发 JWT。
func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, apperr.Store("查询用户", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, _, err := auth.GenerateToken(user.ID, string(user.Role), s.cfg)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌失败: %w", err)
	}
	return token, user, nil
}

// Logout 把当前令牌加入黑名单。
func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := auth.Revoke(ctx, s.blacklist, claims); err != nil {
		s.logger.Error("revoke token failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return fmt.Errorf("%w: %w", apperr.ErrStoreUnavailable, err)
	}
	return nil
}
