package models

import "time"

// Role 定义用户在系统中的角色。
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User 代表系统中的用户。
// 真实姓名只对自己可见，其他成员看到的是群内匿名标签。
type User struct {
	BaseModel
	Name         string `gorm:"type:varchar(100);not null" json:"name"`
	Email        string `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希
	Role         Role   `gorm:"type:varchar(20);default:'user';not null" json:"role"`
	Alias        string `gorm:"type:varchar(100)" json:"alias,omitempty"` // 追加在匿名标签后的昵称

	// 屏蔽集合以行的形式保存，复合主键保证“加入集合”幂等
	BlockedUsers  []UserBlock  `gorm:"foreignKey:UserID" json:"-"`
	BlockedGroups []GroupBlock `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user may manage groups.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// BlockedUserIDs 返回被屏蔽用户的 ID 列表。
func (u *User) BlockedUserIDs() []string {
	ids := make([]string, 0, len(u.BlockedUsers))
	for _, b := range u.BlockedUsers {
		ids = append(ids, b.BlockedUserID)
	}
	return ids
}

// BlockedGroupIDs 返回被屏蔽群组的 ID 列表。
func (u *User) BlockedGroupIDs() []string {
	ids := make([]string, 0, len(u.BlockedGroups))
	for _, b := range u.BlockedGroups {
		ids = append(ids, b.GroupID)
	}
	return ids
}

// UserBasicInfo holds minimal public information about a user.
type UserBasicInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Alias string `json:"alias,omitempty"`
}

// UserBlock 记录 UserID 屏蔽了 BlockedUserID。屏蔽是单向的。
type UserBlock struct {
	UserID        string    `gorm:"type:varchar(64);primaryKey" json:"userId"`
	BlockedUserID string    `gorm:"type:varchar(64);primaryKey" json:"blockedUserId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName 指定 UserBlock 模型的表名。
func (UserBlock) TableName() string {
	return "user_blocks"
}

// GroupBlock 记录 UserID 屏蔽了 GroupID。
type GroupBlock struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey" json:"userId"`
	GroupID   string    `gorm:"type:varchar(64);primaryKey" json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 GroupBlock 模型的表名。
func (GroupBlock) TableName() string {
	return "group_blocks"
}
