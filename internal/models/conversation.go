package models

import (
	"slices"
	"strings"
	"time"
)

// ConversationKind 定义了会话的类型。
type ConversationKind string

const (
	KindGroup  ConversationKind = "group"
	KindDirect ConversationKind = "dm"
)

// ConversationRef identifies a group chat or a direct chat.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id"`
}

// GroupRef 构造群聊引用。
func GroupRef(groupID string) ConversationRef {
	return ConversationRef{Kind: KindGroup, ID: groupID}
}

// DirectRef 构造私聊引用，id 为 DirectKey。
func DirectRef(conversationID string) ConversationRef {
	return ConversationRef{Kind: KindDirect, ID: conversationID}
}

// Key 是未读计数和订阅使用的键，例如 "group-<id>" 或 "dm-<key>"。
func (r ConversationRef) Key() string {
	return string(r.Kind) + "-" + r.ID
}

// WatermarkKey 是本地“最后查看”水位的键。
func (r ConversationRef) WatermarkKey() string {
	return "lastSeen_" + string(r.Kind) + "_" + r.ID
}

// Topic 是该会话有新消息时发布通知的频道名。
func (r ConversationRef) Topic() string {
	return "conv:" + r.Key()
}

// UserTopic 是用户的会话列表发生变化（新私聊、加群、屏蔽）时的通知频道名。
func UserTopic(userID string) string {
	return "user:" + userID
}

// DirectKey 返回两个用户之间私聊的规范 ID，与参数顺序无关。
func DirectKey(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "_")
}

// DirectConversation 代表两个用户之间的私聊，ID 为 DirectKey(UserA, UserB)。
type DirectConversation struct {
	ID        string    `gorm:"type:varchar(150);primarykey" json:"id"`
	UserA     string    `gorm:"type:varchar(64);index;not null" json:"userA"`
	UserB     string    `gorm:"type:varchar(64);index;not null" json:"userB"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 DirectConversation 模型的表名。
func (DirectConversation) TableName() string {
	return "direct_conversations"
}

// NewDirectConversation 以规范顺序构造私聊记录。
func NewDirectConversation(a, b string) DirectConversation {
	if b < a {
		a, b = b, a
	}
	return DirectConversation{ID: DirectKey(a, b), UserA: a, UserB: b}
}

// Other 返回除 userID 以外的另一方；userID 不是参与者时返回空串。
func (c DirectConversation) Other(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}

// Has reports whether userID participates in the conversation.
func (c DirectConversation) Has(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// ConversationSummary 是聚合后聊天列表中的一项。
// LastMessageAt 为零值表示会话中还没有消息，排在所有有消息的会话之后。
type ConversationSummary struct {
	Ref           ConversationRef `json:"ref"`
	Name          string          `json:"name"`                   // 群名，或私聊对方的匿名标签
	DisplayName   string          `json:"displayName"`            // 群聊中自己的标签(+昵称)
	PeerID        string          `json:"peerId,omitempty"`       // 私聊对方
	GroupContext  string          `json:"groupContext,omitempty"` // 私聊双方共同所在的群名
	LastMessageAt time.Time       `json:"lastMessageAt"`
}

// HasMessages reports whether the conversation has at least one message.
func (s ConversationSummary) HasMessages() bool {
	return !s.LastMessageAt.IsZero()
}
