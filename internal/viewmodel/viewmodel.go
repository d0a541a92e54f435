// Package viewmodel turns aggregated conversations and unread counts into the
// rows the presentation layer renders.
package viewmodel

import (
	"strconv"
	"strings"
	"time"

	"anon-chat/internal/models"
)

// MaxBadge 以上的未读数显示为 "99+"。
const MaxBadge = 99

// ChatItem 是聊天列表中的一行。
type ChatItem struct {
	Key           string                  `json:"key"`
	Kind          models.ConversationKind `json:"kind"`
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Subtitle      string                  `json:"subtitle,omitempty"`
	PeerID        string                  `json:"peerId,omitempty"`
	LastMessageAt *time.Time              `json:"lastMessageAt,omitempty"`
	Unread        int                     `json:"unread"`
	Badge         string                  `json:"badge,omitempty"`
}

// Build 是纯函数：按 query 过滤会话，再附加未读计数与角标。
// 输入顺序即输出顺序。
func Build(convs []models.ConversationSummary, counts map[string]int, query string) []ChatItem {
	filtered := Filter(convs, query)
	items := make([]ChatItem, 0, len(filtered))
	for _, c := range filtered {
		key := c.Ref.Key()
		n := counts[key]
		item := ChatItem{
			Key:    key,
			Kind:   c.Ref.Kind,
			ID:     c.Ref.ID,
			Name:   c.Name,
			PeerID: c.PeerID,
			Unread: n,
			Badge:  Badge(n),
		}
		switch c.Ref.Kind {
		case models.KindGroup:
			item.Subtitle = "You are " + c.DisplayName
		case models.KindDirect:
			if c.GroupContext != "" {
				item.Subtitle = "from " + c.GroupContext
			}
		}
		if c.HasMessages() {
			ts := c.LastMessageAt
			item.LastMessageAt = &ts
		}
		items = append(items, item)
	}
	return items
}

// Badge 返回未读角标文本，0 时为空。
func Badge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > MaxBadge:
		return strconv.Itoa(MaxBadge) + "+"
	default:
		return strconv.Itoa(n)
	}
}

// Matches 对会话名和私聊的共同群名做大小写不敏感的子串匹配。空 query 匹配所有会话。
func Matches(c models.ConversationSummary, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), q) ||
		strings.Contains(strings.ToLower(c.GroupContext), q)
}

// Filter narrows convs to those matching query without reordering.
func Filter(convs []models.ConversationSummary, query string) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if Matches(c, query) {
			out = append(out, c)
		}
	}
	return out
}
