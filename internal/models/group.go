package models

import (
	"cmp"
	"slices"
	"time"
)

// Group 代表一个匿名聊天群组，由管理员创建，成员通过邀请码加入。
type Group struct {
	BaseModel
	Name    string `gorm:"type:varchar(100);not null" json:"name"`
	Code    string `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"` // 6 位 [0-9A-Z]
	AdminID string `gorm:"type:varchar(64);index;not null" json:"adminId"`    // 管理员不自动成为成员

	// 关联关系
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"-"`
}

// TableName 指定 Group 模型的表名。
func (Group) TableName() string {
	return "groups"
}

// MemberIDs 按加入顺序返回成员 ID。
// 匿名标签由这里的位置推导，调用前需要按 Seq 预加载 Members。
func (g *Group) MemberIDs() []string {
	members := slices.Clone(g.Members)
	slices.SortStableFunc(members, func(a, b GroupMember) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasMember reports whether userID is in the member list.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// GroupMember 将用户链接到群组。
// Seq 自增，作为加入顺序；(group_id, user_id) 唯一，保证成员列表无重复。
type GroupMember struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	GroupID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_group_member" json:"groupId"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_group_member;index" json:"userId"`
	CreatedAt time.Time `json:"joinedAt"`
}

// TableName 指定 GroupMember 模型的表名。
func (GroupMember) TableName() string {
	return "group_members"
}
