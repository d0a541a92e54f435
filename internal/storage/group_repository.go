package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anon-chat/internal/models"
)

// GroupRepository 定义了群组数据操作的接口。
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroupByID(ctx context.Context, id string) (*models.Group, error)
	GetGroupByCode(ctx context.Context, code string) (*models.Group, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListByAdmin(ctx context.Context, adminID string) ([]models.Group, error)
	ListByMember(ctx context.Context, userID string) ([]models.Group, error)
	ListAll(ctx context.Context) ([]models.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	// AddMember 原子地把用户追加到成员列表末尾。已是成员时返回 added=false。
	AddMember(ctx context.Context, groupID, userID string) (added bool, err error)
}

// gormGroupRepository 使用 GORM 实现 GroupRepository。
type gormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository 创建一个新的基于 GORM 的 GroupRepository。
func NewGormGroupRepository(db *gorm.DB) GroupRepository {
	return &gormGroupRepository{db: db}
}

// preloadMembers 按加入顺序预加载成员。
func preloadMembers(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

// CreateGroup 创建一个新的群组。
func (r *gormGroupRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	return r.db.WithContext(ctx).Omit("Members").Create(group).Error
}

// GetGroupByID 通过ID检索群组，成员按加入顺序排列。
func (r *gormGroupRepository) GetGroupByID(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Preload("Members", preloadMembers).Where("id = ?", id).First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// GetGroupByCode 通过邀请码检索群组。code 需已规范化为大写。
func (r *gormGroupRepository) GetGroupByCode(ctx context.Context, code string) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Preload("Members", preloadMembers).Where("code = ?", code).First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// CodeExists 检查邀请码是否已被占用。
func (r *gormGroupRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

// ListByAdmin 列出管理员创建的群组，最新的在前。
func (r *gormGroupRepository) ListByAdmin(ctx context.Context, adminID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).
		Preload("Members", preloadMembers).
		Where("admin_id = ?", adminID).
		Order("created_at DESC").
		Find(&groups).Error
	return groups, err
}

// ListByMember 获取用户加入的所有群组，按用户加入的先后排列。
func (r *gormGroupRepository) ListByMember(ctx context.Context, userID string) ([]models.Group, error) {
	var memberships []models.GroupMember
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq ASC").Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []models.Group{}, nil
	}

	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.GroupID)
	}
	var groups []models.Group
	err = r.db.WithContext(ctx).Preload("Members", preloadMembers).Where("id IN ?", ids).Find(&groups).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	ordered := make([]models.Group, 0, len(groups))
	for _, id := range ids {
		if g, ok := byID[id]; ok {
			ordered = append(ordered, g)
		}
	}
	return ordered, nil
}

// ListAll 列出全部群组，供运维命令使用。
func (r *gormGroupRepository) ListAll(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.WithContext(ctx).Preload("Members", preloadMembers).Order("created_at ASC").Find(&groups).Error
	return groups, err
}

// DeleteGroup 在一个事务中删除群组及其成员、消息和屏蔽记录。
func (r *gormGroupRepository) DeleteGroup(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&models.GroupMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&models.GroupBlock{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Group{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AddMember 向群组中添加成员。
// 唯一索引 (group_id, user_id) 配合 OnConflict 保证并发加入时无重复、无丢失。
func (r *gormGroupRepository) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	member := &models.GroupMember{GroupID: groupID, UserID: userID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
