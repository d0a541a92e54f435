package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anon-chat/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	UpdateAlias(ctx context.Context, id string, alias string) error
	AddBlockedUser(ctx context.Context, userID, blockedUserID string) error
	AddBlockedGroup(ctx context.Context, userID, groupID string) error
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID, including the block sets.
func (r *gormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("BlockedUsers").
		Preload("BlockedGroups").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err // Handles gorm.ErrRecordNotFound as well
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address.
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByIDs 批量获取用户，缺失的 ID 不出现在结果中。
func (r *gormUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// UpdateAlias 设置或清除用户昵称。
func (r *gormUserRepository) UpdateAlias(ctx context.Context, id string, alias string) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("alias", alias)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddBlockedUser 把用户加入屏蔽集合，重复加入不报错。
func (r *gormUserRepository) AddBlockedUser(ctx context.Context, userID, blockedUserID string) error {
	block := &models.UserBlock{UserID: userID, BlockedUserID: blockedUserID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error
}

// AddBlockedGroup 把群组加入屏蔽集合，重复加入不报错。
func (r *gormUserRepository) AddBlockedGroup(ctx context.Context, userID, groupID string) error {
	block := &models.GroupBlock{UserID: userID, GroupID: groupID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error
}
