// Package unread keeps a live unread count for every conversation in a chat list.
package unread

import (
	"time"

	"anon-chat/internal/models"
)

// DefaultWindow 是每个会话参与计数的最近消息条数。
const DefaultWindow = 50

// Count 统计窗口内他人发送、且晚于水位的消息数。
// 没有水位时他人的所有消息都算未读；没有时间戳的消息只在没有水位时计数。
func Count(entries []models.TimelineEntry, selfID string, watermark time.Time, hasWatermark bool) int {
	n := 0
	for _, e := range entries {
		if e.SenderID == selfID {
			continue
		}
		if !hasWatermark {
			n++
			continue
		}
		if !e.Timestamp.IsZero() && e.Timestamp.After(watermark) {
			n++
		}
	}
	return n
}
