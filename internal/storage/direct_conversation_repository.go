package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anon-chat/internal/models"
)

// DirectConversationRepository 定义了私聊会话的数据操作接口。
type DirectConversationRepository interface {
	// Ensure 获取或创建 a 与 b 之间的私聊，created 表示本次新建。
	Ensure(ctx context.Context, a, b string) (conv *models.DirectConversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.DirectConversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]models.DirectConversation, error)
}

type gormDirectConversationRepository struct {
	db *gorm.DB
}

// NewGormDirectConversationRepository 创建一个新的基于 GORM 的 DirectConversationRepository。
func NewGormDirectConversationRepository(db *gorm.DB) DirectConversationRepository {
	return &gormDirectConversationRepository{db: db}
}

// Ensure 以规范键插入会话；键已存在时不覆盖，再读回已有记录。
func (r *gormDirectConversationRepository) Ensure(ctx context.Context, a, b string) (*models.DirectConversation, bool, error) {
	conv := models.NewDirectConversation(a, b)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&conv)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &conv, true, nil
	}
	existing, err := r.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID 通过规范键检索私聊。
func (r *gormDirectConversationRepository) GetByID(ctx context.Context, id string) (*models.DirectConversation, error) {
	var conv models.DirectConversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByParticipant 列出用户参与的所有私聊，按创建时间排列。
func (r *gormDirectConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]models.DirectConversation, error) {
	var convs []models.DirectConversation
	err := r.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("created_at ASC").
		Find(&convs).Error
	return convs, err
}
