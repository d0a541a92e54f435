package services

import (
	"context"

	"go.uber.org/zap"

	"anon-chat/internal/realtime"
)

// notify 尽力发布变化通知；发布失败只影响实时刷新，不影响已完成的写入。
func notify(ctx context.Context, bus realtime.Bus, logger *zap.Logger, topics ...string) {
	if bus == nil {
		return
	}
	for _, topic := range topics {
		if err := bus.Publish(ctx, topic); err != nil {
			logger.Warn("publish change notification failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}
