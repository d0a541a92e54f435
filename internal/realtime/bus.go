// Package realtime provides the subscribe-to-query primitive the chat list is built on:
// a notification bus keyed by topic and a feed that re-runs a conversation query on
// every notification.
package realtime

import (
	"context"
	"sync"
)

// Bus 在写入方和订阅方之间传递“某个主题有变化”的通知。通知不携带数据。
type Bus interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe 返回的通道在 cancel 被调用或 ctx 结束后关闭。
	// 订阅在返回前已生效，之后的 Publish 不会丢失（可能被合并）。
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// LocalBus is an in-process Bus used by single-node deployments and tests.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan struct{}
	nextID      int64
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[string]map[int64]chan struct{})}
}

// Publish 非阻塞地通知所有订阅者；订阅者尚未消费的通知会被合并。
func (b *LocalBus) Publish(_ context.Context, topic string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic.
func (b *LocalBus) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]chan struct{})
	}
	b.subscribers[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subscribers[topic]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, topic)
				}
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// subscriberCount is used by tests to assert subscriptions are released.
func (b *LocalBus) subscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
