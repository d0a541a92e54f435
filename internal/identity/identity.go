// Package identity derives the per-group anonymous labels members are shown as.
package identity

import (
	"fmt"
	"slices"

	"anon-chat/internal/apperr"
)

// FallbackLabel is used for a direct-chat partner who shares no group with the viewer.
const FallbackLabel = "User"

// Resolve 返回 userID 在成员列表中的匿名标签 "User N"，N 为加入顺序（从 1 开始）。
// 不是成员时返回 apperr.ErrNotAMember。
func Resolve(memberIDs []string, userID string) (string, error) {
	idx := slices.Index(memberIDs, userID)
	if idx < 0 {
		return "", apperr.ErrNotAMember
	}
	return Label(idx), nil
}

// Label 把成员下标转换为标签。
func Label(index int) string {
	return fmt.Sprintf("User %d", index+1)
}

// DisplayName 在标签后追加昵称；昵称只影响展示。
func DisplayName(label, alias string) string {
	if alias == "" {
		return label
	}
	return label + "(" + alias + ")"
}
