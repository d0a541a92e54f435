package models

// ReportKind 区分举报对象。
type ReportKind string

const (
	ReportUser  ReportKind = "user"
	ReportGroup ReportKind = "group"
)

// Report 代表用户提交给管理员的举报。
type Report struct {
	BaseModel
	Kind             ReportKind `gorm:"type:varchar(10);index;not null" json:"type"`
	ReportedUserID   string     `gorm:"type:varchar(64);index" json:"reportedUserId,omitempty"`
	ReportedUserName string     `gorm:"type:varchar(200)" json:"reportedUserName,omitempty"` // 被举报者的匿名标签
	ReportedBy       string     `gorm:"type:varchar(64);index;not null" json:"reportedBy"`
	Reason           string     `gorm:"type:text;not null" json:"reason"`
	MessageContent   string     `gorm:"type:text" json:"messageContent,omitempty"`
	GroupID          string     `gorm:"type:varchar(64);index" json:"groupId,omitempty"`
	GroupName        string     `gorm:"type:varchar(100)" json:"groupName,omitempty"`
}

// TableName 指定 Report 模型的表名。
func (Report) TableName() string {
	return "reports"
}
