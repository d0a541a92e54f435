package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
)

func TestLocalBusPublishSubscribe(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	other, cancelOther, err := bus.Subscribe(ctx, "other")
	require.NoError(t, err)
	defer cancelOther()

	// 连续发布被合并为一次通知
	require.NoError(t, bus.Publish(ctx, "t"))
	require.NoError(t, bus.Publish(ctx, "t"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
	select {
	case <-other:
		t.Fatal("unrelated topic notified")
	default:
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")
	assert.Equal(t, 0, bus.subscriberCount("t"))
	assert.NoError(t, bus.Publish(ctx, "t"))
}

func TestLocalBusReleasesOnContextDone(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not released")
	}
	assert.Eventually(t, func() bool { return bus.subscriberCount("t") == 0 }, time.Second, 10*time.Millisecond)
}

type fakeQuerier struct {
	mu      sync.Mutex
	entries []models.TimelineEntry
	err     error
	calls   int
}

func (f *fakeQuerier) Latest(_ context.Context, _ models.ConversationRef, limit int) ([]models.TimelineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := min(limit, len(f.entries))
	out := make([]models.TimelineEntry, n)
	copy(out, f.entries[:n])
	return out, nil
}

func (f *fakeQuerier) set(entries []models.TimelineEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	f.err = err
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "feed closed unexpectedly")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestQueryFeedInitialAndUpdates(t *testing.T) {
	bus := NewLocalBus()
	q := &fakeQuerier{entries: []models.TimelineEntry{{ID: "m1"}}}
	feed := NewQueryFeed(bus, q, zap.NewNop())
	ref := models.GroupRef("g1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Subscribe(ctx, ref, 50)
	require.NoError(t, err)

	first := receive(t, ch)
	require.NoError(t, first.Err)
	assert.Len(t, first.Entries, 1)

	q.set([]models.TimelineEntry{{ID: "m2"}, {ID: "m1"}}, nil)
	require.NoError(t, bus.Publish(ctx, ref.Topic()))
	second := receive(t, ch)
	assert.Len(t, second.Entries, 2)
	assert.Equal(t, "m2", second.Entries[0].ID)

	q.set(nil, errors.New("boom"))
	require.NoError(t, bus.Publish(ctx, ref.Topic()))
	failed := receive(t, ch)
	assert.ErrorIs(t, failed.Err, apperr.ErrStoreUnavailable)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return bus.subscriberCount(ref.Topic()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestQueryFeedKeepsOnlyLatestSnapshot(t *testing.T) {
	bus := NewLocalBus()
	q := &fakeQuerier{}
	feed := NewQueryFeed(bus, q, zap.NewNop())
	ref := models.DirectRef("a_b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Subscribe(ctx, ref, 50)
	require.NoError(t, err)

	// 消费者不读取时，后续快照覆盖前一份
	for i := 1; i <= 3; i++ {
		entries := make([]models.TimelineEntry, i)
		q.set(entries, nil)
		require.NoError(t, bus.Publish(ctx, ref.Topic()))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.calls >= 2
	}, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	s := receive(t, ch)
	assert.Len(t, s.Entries, 3)
}
