// Package watermark persists the "last seen" timestamp of each conversation per user and device.
package watermark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"anon-chat/internal/models"
)

// Store 是按 scope 隔离的键值存储，scope 由 Scope(userID, device) 生成。ok 为 false 表示从未查看过。
type Store interface {
	Get(ctx context.Context, scope, key string) (t time.Time, ok bool, err error)
	Set(ctx context.Context, scope, key string, t time.Time) error
}

// Scope 返回某个用户在某台设备上的水位空间。同一设备上的不同用户互不影响。
func Scope(userID, device string) string {
	return userID + ":" + device
}

// MemoryStore keeps watermarks in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]time.Time)}
}

// Get returns the stored watermark for key in scope.
func (s *MemoryStore) Get(_ context.Context, scope, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data[scope][key]
	return t, ok, nil
}

// Set stores the watermark for key in scope.
func (s *MemoryStore) Set(_ context.Context, scope, key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[scope] == nil {
		s.data[scope] = make(map[string]time.Time)
	}
	s.data[scope][key] = t
	return nil
}

// Device 绑定某个用户在某台设备上的水位读写。读写都是尽力而为：失败只记录日志。
type Device struct {
	store  Store
	userID string
	device string
	logger *zap.Logger
	now    func() time.Time
}

// ForDevice returns the watermark view of userID on one device.
func ForDevice(store Store, userID, device string, logger *zap.Logger) *Device {
	return &Device{store: store, userID: userID, device: device, logger: logger, now: time.Now}
}

func (d *Device) scope() string {
	return Scope(d.userID, d.device)
}

// LastSeen 读取会话的水位。读取失败按“从未查看”处理。
func (d *Device) LastSeen(ctx context.Context, ref models.ConversationRef) (time.Time, bool) {
	t, ok, err := d.store.Get(ctx, d.scope(), ref.WatermarkKey())
	if err != nil {
		d.logger.Warn("read watermark failed",
			zap.String("user_id", d.userID), zap.String("device", d.device), zap.String("conversation", ref.Key()), zap.Error(err))
		return time.Time{}, false
	}
	return t, ok
}

// MarkSeen 把会话水位设为当前时间并返回该时间。
func (d *Device) MarkSeen(ctx context.Context, ref models.ConversationRef) time.Time {
	now := d.now().UTC().Truncate(time.Millisecond)
	if err := d.store.Set(ctx, d.scope(), ref.WatermarkKey(), now); err != nil {
		d.logger.Warn("write watermark failed",
			zap.String("user_id", d.userID), zap.String("device", d.device), zap.String("conversation", ref.Key()), zap.Error(err))
	}
	return now
}
