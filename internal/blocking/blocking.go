// Package blocking hides content the current user has blocked.
// Blocking is one-directional: only the blocker's own views are filtered.
package blocking

import (
	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
)

// List 是当前用户的屏蔽集合。
type List struct {
	users  map[string]struct{}
	groups map[string]struct{}
}

// New builds a List from explicit id slices.
func New(userIDs, groupIDs []string) List {
	l := List{
		users:  make(map[string]struct{}, len(userIDs)),
		groups: make(map[string]struct{}, len(groupIDs)),
	}
	for _, id := range userIDs {
		l.users[id] = struct{}{}
	}
	for _, id := range groupIDs {
		l.groups[id] = struct{}{}
	}
	return l
}

// FromUser 从用户记录读取屏蔽集合，记录需预加载 BlockedUsers/BlockedGroups。
func FromUser(u *models.User) List {
	if u == nil {
		return New(nil, nil)
	}
	return New(u.BlockedUserIDs(), u.BlockedGroupIDs())
}

// UserBlocked reports whether id is in the blocked users set.
func (l List) UserBlocked(id string) bool {
	_, ok := l.users[id]
	return ok
}

// GroupBlocked reports whether id is in the blocked groups set.
func (l List) GroupBlocked(id string) bool {
	_, ok := l.groups[id]
	return ok
}

// Filter keeps the items for which blocked returns false. The input slice is not modified.
func Filter[T any](items []T, blocked func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !blocked(it) {
			out = append(out, it)
		}
	}
	return out
}

// Messages 去掉被屏蔽用户发送的消息。
func (l List) Messages(entries []models.TimelineEntry) []models.TimelineEntry {
	return Filter(entries, func(e models.TimelineEntry) bool { return l.UserBlocked(e.SenderID) })
}

// Groups 去掉被屏蔽的群组。
func (l List) Groups(groups []models.Group) []models.Group {
	return Filter(groups, func(g models.Group) bool { return l.GroupBlocked(g.ID) })
}

// Direct 去掉对方被屏蔽的私聊。
func (l List) Direct(selfID string, convs []models.DirectConversation) []models.DirectConversation {
	return Filter(convs, func(c models.DirectConversation) bool { return l.UserBlocked(c.Other(selfID)) })
}

// ValidateTarget 拒绝以自己为对象的操作（发私信、屏蔽、举报）。
func ValidateTarget(selfID, targetID string) error {
	if targetID == "" {
		return apperr.Invalid("target user is required")
	}
	if selfID == targetID {
		return apperr.ErrSelfAction
	}
	return nil
}
