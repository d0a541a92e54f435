package unread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
)

// memStore 是按会话保存消息的内存查询源，写入后通过 bus 通知订阅者。
type memStore struct {
	mu   sync.Mutex
	bus  *realtime.LocalBus
	msgs map[string][]models.TimelineEntry // newest first
	errs map[string]error
}

func newMemStore() *memStore {
	return &memStore{bus: realtime.NewLocalBus(), msgs: map[string][]models.TimelineEntry{}, errs: map[string]error{}}
}

func (m *memStore) Latest(_ context.Context, ref models.ConversationRef, limit int) ([]models.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[ref.Key()]; err != nil {
		return nil, err
	}
	all := m.msgs[ref.Key()]
	n := min(limit, len(all))
	out := make([]models.TimelineEntry, n)
	copy(out, all[:n])
	return out, nil
}

func (m *memStore) add(t *testing.T, ref models.ConversationRef, sender string, ts time.Time) {
	m.mu.Lock()
	m.msgs[ref.Key()] = append([]models.TimelineEntry{{SenderID: sender, Timestamp: ts}}, m.msgs[ref.Key()]...)
	m.mu.Unlock()
	require.NoError(t, m.bus.Publish(context.Background(), ref.Topic()))
}

func (m *memStore) fail(t *testing.T, ref models.ConversationRef, err error) {
	m.mu.Lock()
	m.errs[ref.Key()] = err
	m.mu.Unlock()
	require.NoError(t, m.bus.Publish(context.Background(), ref.Topic()))
}

// countingFeed 记录仍然存活的订阅数。
type countingFeed struct {
	inner  realtime.Feed
	active atomic.Int32
}

func (f *countingFeed) Subscribe(ctx context.Context, ref models.ConversationRef, limit int) (<-chan realtime.Snapshot, error) {
	ch, err := f.inner.Subscribe(ctx, ref, limit)
	if err != nil {
		return nil, err
	}
	f.active.Add(1)
	go func() {
		<-ctx.Done()
		f.active.Add(-1)
	}()
	return ch, nil
}

type staticMarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func (s *staticMarks) LastSeen(_ context.Context, ref models.ConversationRef) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.marks[ref.Key()]
	return t, ok
}

func newTestTracker(t *testing.T, store *memStore, marks *staticMarks) (*Tracker, *countingFeed) {
	t.Helper()
	feed := &countingFeed{inner: realtime.NewQueryFeed(store.bus, store, zap.NewNop())}
	if marks == nil {
		marks = &staticMarks{marks: map[string]time.Time{}}
	}
	tr := NewTracker(feed, marks, "self", DefaultWindow, zap.NewNop())
	t.Cleanup(tr.Close)
	return tr, feed
}

func waitCount(t *testing.T, tr *Tracker, key string, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		got, ok := tr.Counts()[key]
		return ok && got == want
	}, 2*time.Second, 10*time.Millisecond, "count for %s never reached %d (have %v)", key, want, tr.Counts())
}

func TestTrackerCountsAndTouch(t *testing.T) {
	store := newMemStore()
	team := models.GroupRef("team")
	store.add(t, team, "other", at(10))
	store.add(t, team, "self", at(20))

	tr, _ := newTestTracker(t, store, nil)
	tr.Sync([]models.ConversationRef{team})
	waitCount(t, tr, team.Key(), 1)

	tr.Touch(team, at(15))
	waitCount(t, tr, team.Key(), 0)

	store.add(t, team, "other", at(30))
	waitCount(t, tr, team.Key(), 1)
}

func TestTrackerUsesStoredWatermark(t *testing.T) {
	store := newMemStore()
	dm := models.DirectRef(models.DirectKey("self", "peer"))
	store.add(t, dm, "peer", at(5))
	store.add(t, dm, "peer", at(50))

	marks := &staticMarks{marks: map[string]time.Time{dm.Key(): at(10)}}
	tr, _ := newTestTracker(t, store, marks)
	tr.Sync([]models.ConversationRef{dm})
	waitCount(t, tr, dm.Key(), 1)
}

func TestTrackerWindowCap(t *testing.T) {
	store := newMemStore()
	busy := models.GroupRef("busy")
	for i := 0; i < 80; i++ {
		store.add(t, busy, "other", at(i))
	}
	tr, _ := newTestTracker(t, store, nil)
	tr.Sync([]models.ConversationRef{busy})
	waitCount(t, tr, busy.Key(), DefaultWindow)
}

func TestTrackerSyncReleasesRemovedConversations(t *testing.T) {
	store := newMemStore()
	a := models.GroupRef("a")
	b := models.DirectRef("self_y")
	store.add(t, a, "other", at(1))
	store.add(t, b, "y", at(2))

	tr, feed := newTestTracker(t, store, nil)
	tr.Sync([]models.ConversationRef{a, b})
	waitCount(t, tr, a.Key(), 1)
	waitCount(t, tr, b.Key(), 1)
	assert.Equal(t, int32(2), feed.active.Load())

	// 屏蔽 y 之后会话列表不再包含 b
	tr.Sync([]models.ConversationRef{a})
	_, present := tr.Counts()[b.Key()]
	assert.False(t, present)
	assert.Eventually(t, func() bool { return feed.active.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// 已取消的订阅不会再写回计数
	store.add(t, b, "y", at(3))
	time.Sleep(50 * time.Millisecond)
	_, present = tr.Counts()[b.Key()]
	assert.False(t, present)
}

func TestTrackerKeepsLastCountOnError(t *testing.T) {
	store := newMemStore()
	g := models.GroupRef("g")
	store.add(t, g, "other", at(1))
	store.add(t, g, "other", at(2))

	tr, _ := newTestTracker(t, store, nil)
	tr.Sync([]models.ConversationRef{g})
	waitCount(t, tr, g.Key(), 2)

	store.fail(t, g, errors.New("backend down"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, tr.Counts()[g.Key()])
}

func TestTrackerChangesAndClose(t *testing.T) {
	store := newMemStore()
	g := models.GroupRef("g")
	store.add(t, g, "other", at(1))

	tr, feed := newTestTracker(t, store, nil)
	tr.Sync([]models.ConversationRef{g})

	select {
	case c, ok := <-tr.Changes():
		require.True(t, ok)
		assert.Equal(t, 1, c[g.Key()])
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
	}

	tr.Close()
	tr.Close()
	assert.Eventually(t, func() bool { return feed.active.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
	for range tr.Changes() {
	}
	assert.Empty(t, tr.Counts())

	// 关闭后的调用不阻塞
	tr.Sync([]models.ConversationRef{g})
	tr.Touch(g, at(5))
}
