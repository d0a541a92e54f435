package unread

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
)

// Watermarks 提供会话的“最后查看”时间，由 watermark.Device 实现。
type Watermarks interface {
	LastSeen(ctx context.Context, ref models.ConversationRef) (time.Time, bool)
}

// Tracker 为每个会话维持一个消息订阅，并把各订阅的结果归并成一张未读计数表。
// 计数表只由 run 协程读写；订阅协程、Sync、Touch 都通过 events 通道发消息给它。
type Tracker struct {
	feed   realtime.Feed
	marks  Watermarks
	selfID string
	window int
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan any
	changes chan map[string]int
	stopped chan struct{}
	once    sync.Once
}

type subscription struct {
	ref    models.ConversationRef
	id     uint64
	cancel context.CancelFunc
	// 最近一次快照，Touch 时用新水位重算
	entries   []models.TimelineEntry
	watermark time.Time
	hasMark   bool
	loaded    bool
}

type syncEvent struct {
	refs []models.ConversationRef
	done chan struct{}
}

type snapshotEvent struct {
	key       string
	id        uint64
	snap      realtime.Snapshot
	watermark time.Time
	hasMark   bool
}

type touchEvent struct {
	key    string
	seenAt time.Time
}

type countsEvent struct {
	reply chan map[string]int
}

// NewTracker starts a Tracker for selfID. Call Close to release its subscriptions.
func NewTracker(feed realtime.Feed, marks Watermarks, selfID string, window int, logger *zap.Logger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		feed:    feed,
		marks:   marks,
		selfID:  selfID,
		window:  window,
		logger:  logger.With(zap.String("user_id", selfID)),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan any),
		changes: make(chan map[string]int, 1),
		stopped: make(chan struct{}),
	}
	go t.run()
	return t
}

// Sync 把订阅集合调整为 refs：新增的会话开始订阅，移除的会话取消订阅并丢弃其计数。
func (t *Tracker) Sync(refs []models.ConversationRef) {
	done := make(chan struct{})
	if t.send(syncEvent{refs: refs, done: done}) {
		select {
		case <-done:
		case <-t.stopped:
		}
	}
}

// Touch 在打开会话后用新的水位立即重算该会话的计数。
func (t *Tracker) Touch(ref models.ConversationRef, seenAt time.Time) {
	t.send(touchEvent{key: ref.Key(), seenAt: seenAt})
}

// Counts 返回当前计数表的副本。
func (t *Tracker) Counts() map[string]int {
	reply := make(chan map[string]int, 1)
	if !t.send(countsEvent{reply: reply}) {
		return map[string]int{}
	}
	select {
	case c := <-reply:
		return c
	case <-t.stopped:
		return map[string]int{}
	}
}

// Changes 在计数表变化时送出最新副本；未被读取的旧副本会被替换。Close 后关闭。
func (t *Tracker) Changes() <-chan map[string]int {
	return t.changes
}

// Close 取消全部订阅并停止归并协程。可重复调用。
func (t *Tracker) Close() {
	t.once.Do(func() {
		t.cancel()
		<-t.stopped
	})
}

func (t *Tracker) send(ev any) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *Tracker) run() {
	defer close(t.stopped)
	defer close(t.changes)

	subs := make(map[string]*subscription)
	counts := make(map[string]int)
	var nextID uint64

	defer func() {
		for _, s := range subs {
			s.cancel()
		}
	}()

	for {
		select {
		case <-t.ctx.Done():
			return
		case raw := <-t.events:
			changed := false
			switch ev := raw.(type) {
			case syncEvent:
				wanted := make(map[string]models.ConversationRef, len(ev.refs))
				for _, ref := range ev.refs {
					wanted[ref.Key()] = ref
				}
				for key, s := range subs {
					if _, ok := wanted[key]; !ok {
						s.cancel()
						delete(subs, key)
						if _, had := counts[key]; had {
							delete(counts, key)
							changed = true
						}
					}
				}
				for key, ref := range wanted {
					if _, ok := subs[key]; ok {
						continue
					}
					nextID++
					ctx, cancel := context.WithCancel(t.ctx)
					subs[key] = &subscription{ref: ref, id: nextID, cancel: cancel}
					go t.watch(ctx, ref, nextID)
				}
				close(ev.done)

			case snapshotEvent:
				s, ok := subs[ev.key]
				if !ok || s.id != ev.id {
					// 已取消的订阅迟到的结果
					continue
				}
				if ev.snap.Err != nil {
					t.logger.Warn("unread subscription error, keeping last count",
						zap.String("conversation", ev.key), zap.Error(ev.snap.Err))
					continue
				}
				s.entries = ev.snap.Entries
				s.loaded = true
				if ev.hasMark && (!s.hasMark || ev.watermark.After(s.watermark)) {
					s.watermark, s.hasMark = ev.watermark, true
				}
				changed = t.recount(counts, ev.key, s)

			case touchEvent:
				s, ok := subs[ev.key]
				if !ok {
					continue
				}
				if !s.hasMark || ev.seenAt.After(s.watermark) {
					s.watermark, s.hasMark = ev.seenAt, true
				}
				if s.loaded {
					changed = t.recount(counts, ev.key, s)
				}

			case countsEvent:
				ev.reply <- maps.Clone(counts)
			}

			if changed {
				t.publish(maps.Clone(counts))
			}
		}
	}
}

func (t *Tracker) recount(counts map[string]int, key string, s *subscription) bool {
	n := Count(s.entries, t.selfID, s.watermark, s.hasMark)
	if old, ok := counts[key]; ok && old == n {
		return false
	}
	counts[key] = n
	return true
}

func (t *Tracker) publish(c map[string]int) {
	select {
	case <-t.changes:
	default:
	}
	t.changes <- c
}

// watch 消费一个会话的快照流，读取水位后交给归并协程。
func (t *Tracker) watch(ctx context.Context, ref models.ConversationRef, id uint64) {
	snaps, err := t.feed.Subscribe(ctx, ref, t.window)
	if err != nil {
		t.logger.Warn("unread subscribe failed", zap.String("conversation", ref.Key()), zap.Error(err))
		return
	}
	for snap := range snaps {
		mark, ok := t.marks.LastSeen(ctx, ref)
		ev := snapshotEvent{key: ref.Key(), id: id, snap: snap, watermark: mark, hasMark: ok}
		select {
		case t.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
