package chatlist

import (
	"context"

	"go.uber.org/zap"

	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/unread"
	"anon-chat/internal/viewmodel"
	"anon-chat/internal/watermark"
)

// Factory 持有所有连接共享的依赖，为每个连接创建 View。
type Factory struct {
	agg    Aggregator
	marker SeenMarker
	feed   realtime.Feed
	query  realtime.LatestQuerier
	marks  watermark.Store
	bus    realtime.Bus
	window int
	logger *zap.Logger
}

// NewFactory creates a Factory. window is the unread scan size per conversation.
func NewFactory(
	agg Aggregator,
	marker SeenMarker,
	feed realtime.Feed,
	query realtime.LatestQuerier,
	marks watermark.Store,
	bus realtime.Bus,
	window int,
	logger *zap.Logger,
) *Factory {
	if window <= 0 {
		window = unread.DefaultWindow
	}
	return &Factory{agg: agg, marker: marker, feed: feed, query: query, marks: marks, bus: bus, window: window, logger: logger}
}

// Open 为 userID 在 device 上创建并启动一个 View。
func (f *Factory) Open(ctx context.Context, userID, device string) (*View, error) {
	marks := watermark.ForDevice(f.marks, userID, device, f.logger)
	tracker := unread.NewTracker(f.feed, marks, userID, f.window, f.logger)
	v := NewView(userID, device, f.agg, f.marker, tracker, f.bus, f.logger)
	if err := v.Start(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Snapshot 一次性渲染聊天列表，不建立订阅。某个会话的计数失败时按 0 处理。
func (f *Factory) Snapshot(ctx context.Context, userID, device, search string) ([]viewmodel.ChatItem, error) {
	convs, err := f.agg.Aggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	marks := watermark.ForDevice(f.marks, userID, device, f.logger)
	counts := make(map[string]int, len(convs))
	for _, c := range viewmodel.Filter(convs, search) {
		counts[c.Ref.Key()] = f.count(ctx, userID, marks, c.Ref)
	}
	return viewmodel.Build(convs, counts, search), nil
}

func (f *Factory) count(ctx context.Context, userID string, marks *watermark.Device, ref models.ConversationRef) int {
	entries, err := f.query.Latest(ctx, ref, f.window)
	if err != nil {
		f.logger.Warn("count unread failed", zap.String("conversation", ref.Key()), zap.Error(err))
		return 0
	}
	seen, ok := marks.LastSeen(ctx, ref)
	return unread.Count(entries, userID, seen, ok)
}
