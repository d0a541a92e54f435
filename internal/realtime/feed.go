package realtime

import (
	"context"

	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
)

// Snapshot 是一次查询的完整结果，Entries 按时间降序。Err 非空时 Entries 为空。
type Snapshot struct {
	Entries []models.TimelineEntry
	Err     error
}

// Feed delivers an initial snapshot of a conversation's latest messages and then a
// fresh snapshot after every change, until ctx is done.
type Feed interface {
	Subscribe(ctx context.Context, ref models.ConversationRef, limit int) (<-chan Snapshot, error)
}

// LatestQuerier 是 Feed 依赖的查询原语，由 storage.MessageRepository 实现。
type LatestQuerier interface {
	Latest(ctx context.Context, ref models.ConversationRef, limit int) ([]models.TimelineEntry, error)
}

// QueryFeed 组合 Bus 与查询：订阅会话主题，每次收到通知就重新查询。
type QueryFeed struct {
	bus    Bus
	query  LatestQuerier
	logger *zap.Logger
}

// NewQueryFeed creates a QueryFeed.
func NewQueryFeed(bus Bus, query LatestQuerier, logger *zap.Logger) *QueryFeed {
	return &QueryFeed{bus: bus, query: query, logger: logger}
}

// Subscribe 先订阅再做首次查询，保证两者之间的写入不会漏掉。
// 返回的通道只保留最新一份快照，ctx 结束后关闭。
func (f *QueryFeed) Subscribe(ctx context.Context, ref models.ConversationRef, limit int) (<-chan Snapshot, error) {
	notify, cancel, err := f.bus.Subscribe(ctx, ref.Topic())
	if err != nil {
		return nil, apperr.Store("subscribe "+ref.Key(), err)
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer cancel()

		f.deliver(ctx, out, f.snapshot(ctx, ref, limit))
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				f.deliver(ctx, out, f.snapshot(ctx, ref, limit))
			}
		}
	}()
	return out, nil
}

func (f *QueryFeed) snapshot(ctx context.Context, ref models.ConversationRef, limit int) Snapshot {
	entries, err := f.query.Latest(ctx, ref, limit)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("feed query failed", zap.String("conversation", ref.Key()), zap.Error(err))
		}
		return Snapshot{Err: apperr.Store("query "+ref.Key(), err)}
	}
	return Snapshot{Entries: entries}
}

// deliver 替换掉消费者尚未读取的旧快照。
func (f *QueryFeed) deliver(ctx context.Context, out chan Snapshot, s Snapshot) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- s:
	case <-ctx.Done():
	}
}
