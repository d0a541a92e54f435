// Package chatlist keeps one client's chat list live: it aggregates the
// conversations, tracks unread counts and re-renders whenever either changes.
package chatlist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/viewmodel"
)

// Aggregator 由 services.ChatListService 实现。
type Aggregator interface {
	Aggregate(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// SeenMarker 由 services.ChatService 实现。
type SeenMarker interface {
	MarkSeen(ctx context.Context, userID, device string, ref models.ConversationRef) time.Time
}

// Counter 由 *unread.Tracker 实现。
type Counter interface {
	Sync(refs []models.ConversationRef)
	Touch(ref models.ConversationRef, seenAt time.Time)
	Counts() map[string]int
	Changes() <-chan map[string]int
	Close()
}

// Update 是一次渲染结果。Err 非空时 Items 仍是上一次成功加载的列表。
type Update struct {
	Items []viewmodel.ChatItem
	Err   error
}

// View 是某个用户在某台设备上的实时聊天列表。
type View struct {
	userID string
	device string
	agg    Aggregator
	marker SeenMarker
	counts Counter
	bus    realtime.Bus
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      uint64
	closed   bool
	convs    []models.ConversationSummary
	unread   map[string]int
	query    string
	lastErr  error
	updates  chan Update
	unsubBus func()
}

// NewView creates a View. Call Start to load it and Close to release it.
func NewView(userID, device string, agg Aggregator, marker SeenMarker, counts Counter, bus realtime.Bus, logger *zap.Logger) *View {
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		userID:  userID,
		device:  device,
		agg:     agg,
		marker:  marker,
		counts:  counts,
		bus:     bus,
		logger:  logger.With(zap.String("user_id", userID), zap.String("device", device)),
		ctx:     ctx,
		cancel:  cancel,
		unread:  map[string]int{},
		updates: make(chan Update, 1),
	}
}

// Start 订阅用户级变化通知并加载第一版列表。加载失败通过 Updates 送出，不影响订阅。
func (v *View) Start(ctx context.Context) error {
	var userTopic <-chan struct{}
	if v.bus != nil {
		ch, unsubscribe, err := v.bus.Subscribe(v.ctx, models.UserTopic(v.userID))
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.unsubBus = unsubscribe
		v.mu.Unlock()
		userTopic = ch
	}
	v.wg.Add(1)
	go v.loop(userTopic)
	_ = v.Refresh(ctx)
	return nil
}

func (v *View) loop(userTopic <-chan struct{}) {
	defer v.wg.Done()
	changes := v.counts.Changes()
	for {
		select {
		case <-v.ctx.Done():
			return
		case _, ok := <-userTopic:
			if !ok {
				userTopic = nil
				continue
			}
			_ = v.Refresh(v.ctx)
		case c, ok := <-changes:
			if !ok {
				return
			}
			// 有新消息时最近活动时间可能改变，重新聚合以更新排序
			if v.applyCounts(c) {
				_ = v.Refresh(v.ctx)
			}
		}
	}
}

// Refresh 重新聚合会话列表。较早发起但较晚返回的结果以及 Close 之后返回的结果都会被丢弃。
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	list, err := v.agg.Aggregate(ctx, v.userID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.gen {
		v.logger.Debug("discarding stale chat list", zap.Uint64("generation", gen))
		return nil
	}
	if err != nil {
		v.logger.Warn("refresh chat list failed", zap.Error(err))
		v.lastErr = err
		v.renderLocked()
		return err
	}

	v.convs = list
	v.lastErr = nil
	refs := make([]models.ConversationRef, 0, len(list))
	for _, c := range list {
		refs = append(refs, c.Ref)
	}
	v.counts.Sync(refs)
	v.unread = v.counts.Counts()
	v.renderLocked()
	return nil
}

// Search 只在已加载的列表上过滤，不重新查询。
func (v *View) Search(query string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.query = query
	v.renderLocked()
}

// Open 在渲染之前先把会话水位设为现在，返回写入的时间。
func (v *View) Open(ctx context.Context, ref models.ConversationRef) time.Time {
	seenAt := v.marker.MarkSeen(ctx, v.userID, v.device, ref)
	v.counts.Touch(ref, seenAt)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.unread[ref.Key()]; ok {
		v.unread[ref.Key()] = 0
	}
	v.renderLocked()
	return seenAt
}

// Items 返回当前渲染结果。
func (v *View) Items() []viewmodel.ChatItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	return viewmodel.Build(v.convs, v.unread, v.query)
}

// Updates 送出最新的渲染结果，未读取的旧结果会被替换。Close 后关闭。
func (v *View) Updates() <-chan Update {
	return v.updates
}

// Close 释放订阅和未读追踪。可重复调用。
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.updates)
	unsubscribe := v.unsubBus
	v.mu.Unlock()

	v.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	v.wg.Wait()
	v.counts.Close()
}

// applyCounts 返回是否有会话的未读数增加。
func (v *View) applyCounts(c map[string]int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	grew := false
	for k, n := range c {
		if n > v.unread[k] {
			grew = true
		}
	}
	v.unread = c
	v.renderLocked()
	return grew
}

func (v *View) renderLocked() {
	if v.closed {
		return
	}
	u := Update{Items: viewmodel.Build(v.convs, v.unread, v.query), Err: v.lastErr}
	select {
	case v.updates <- u:
		return
	default:
	}
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- u:
	default:
	}
}
