package models

import "time"

// GroupMessage 代表群聊中的一条消息。创建后不可修改。
type GroupMessage struct {
	BaseModel
	GroupID           string    `gorm:"type:varchar(64);index:idx_group_message_ts,priority:1;not null" json:"groupId"`
	SenderID          string    `gorm:"type:varchar(64);index;not null" json:"senderId"`
	SenderDisplayName string    `gorm:"type:varchar(200);not null" json:"senderDisplayName"` // 发送时的匿名标签(+昵称)
	Text              string    `gorm:"type:text;not null" json:"text"`
	Timestamp         time.Time `gorm:"index:idx_group_message_ts,priority:2;not null" json:"timestamp"`
}

// TableName 指定 GroupMessage 模型的表名。
func (GroupMessage) TableName() string {
	return "group_messages"
}

// Entry 投影为通用的时间线条目。
func (m GroupMessage) Entry() TimelineEntry {
	return TimelineEntry{
		ID:                m.ID,
		SenderID:          m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Text:              m.Text,
		Timestamp:         m.Timestamp,
	}
}

// DirectMessage 代表私聊中的一条消息。
type DirectMessage struct {
	BaseModel
	ConversationID string    `gorm:"type:varchar(150);index:idx_direct_message_ts,priority:1;not null" json:"conversationId"`
	SenderID       string    `gorm:"type:varchar(64);index;not null" json:"senderId"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	Timestamp      time.Time `gorm:"index:idx_direct_message_ts,priority:2;not null" json:"timestamp"`
}

// TableName 指定 DirectMessage 模型的表名。
func (DirectMessage) TableName() string {
	return "direct_messages"
}

// Entry 投影为通用的时间线条目。
func (m DirectMessage) Entry() TimelineEntry {
	return TimelineEntry{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

// TimelineEntry is the kind-independent view of a message used by feeds,
// unread counting and block filtering.
type TimelineEntry struct {
	ID                string    `json:"id"`
	SenderID          string    `json:"senderId"`
	SenderDisplayName string    `json:"senderDisplayName,omitempty"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
}
