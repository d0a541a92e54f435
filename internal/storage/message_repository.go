package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"anon-chat/internal/models"
)

// MessageRepository 定义了群聊和私聊消息的数据操作接口。
type MessageRepository interface {
	CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error

	// ListGroupMessages 按时间升序返回最近 limit 条群消息；limit<=0 表示全部。
	ListGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error)
	// ListDirectMessages 按时间升序返回最近 limit 条私聊消息；limit<=0 表示全部。
	ListDirectMessages(ctx context.Context, conversationID string, limit int) ([]models.DirectMessage, error)

	// Latest 按时间降序返回会话最近 limit 条消息。
	Latest(ctx context.Context, ref models.ConversationRef, limit int) ([]models.TimelineEntry, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// CreateGroupMessage 保存一条群消息。
func (r *gormMessageRepository) CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// CreateDirectMessage 保存一条私聊消息。
func (r *gormMessageRepository) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListGroupMessages 先按时间倒序取窗口，再翻转为升序返回。
func (r *gormMessageRepository) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]models.GroupMessage, error) {
	var msgs []models.GroupMessage
	q := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListDirectMessages 先按时间倒序取窗口，再翻转为升序返回。
func (r *gormMessageRepository) ListDirectMessages(ctx context.Context, conversationID string, limit int) ([]models.DirectMessage, error) {
	var msgs []models.DirectMessage
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// Latest 返回会话最近的消息，最新的在前。
func (r *gormMessageRepository) Latest(ctx context.Context, ref models.ConversationRef, limit int) ([]models.TimelineEntry, error) {
	switch ref.Kind {
	case models.KindGroup:
		var msgs []models.GroupMessage
		err := r.db.WithContext(ctx).Where("group_id = ?", ref.ID).
			Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		entries := make([]models.TimelineEntry, 0, len(msgs))
		for _, m := range msgs {
			entries = append(entries, m.Entry())
		}
		return entries, nil
	case models.KindDirect:
		var msgs []models.DirectMessage
		err := r.db.WithContext(ctx).Where("conversation_id = ?", ref.ID).
			Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		entries := make([]models.TimelineEntry, 0, len(msgs))
		for _, m := range msgs {
			entries = append(entries, m.Entry())
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
	}
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
