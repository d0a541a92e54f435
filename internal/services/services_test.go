package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"anon-chat/internal/config"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/storage"
	"anon-chat/internal/watermark"
)

const testBaseURL = "https://chat.example.com"

type testEnv struct {
	db      *gorm.DB
	users   storage.UserRepository
	groups  storage.GroupRepository
	direct  storage.DirectConversationRepository
	msgs    storage.MessageRepository
	reports storage.ReportRepository
	marks   *watermark.MemoryStore
	bus     *realtime.LocalBus

	auth     AuthService
	user     UserService
	group    GroupService
	chat     ChatService
	chatList ChatListService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.AutoMigrateTables(db, zap.NewNop()))

	log := zap.NewNop()
	env := &testEnv{
		db:      db,
		users:   storage.NewGormUserRepository(db),
		groups:  storage.NewGormGroupRepository(db),
		direct:  storage.NewGormDirectConversationRepository(db),
		msgs:    storage.NewGormMessageRepository(db),
		reports: storage.NewGormReportRepository(db),
		marks:   watermark.NewMemoryStore(),
		bus:     realtime.NewLocalBus(),
	}
	env.auth = NewAuthService(env.users, nil, config.AuthConfig{JWTSecretKey: "k", JWTExpiry: time.Hour}, log)
	env.user = NewUserService(env.users, env.bus, log)
	env.group = NewGroupService(env.groups, env.users, env.bus, testBaseURL, log)
	env.chat = NewChatService(env.groups, env.users, env.direct, env.msgs, env.marks, env.bus, log)
	env.chatList = NewChatListService(env.groups, env.users, env.direct, env.msgs, log)
	return env
}

func (e *testEnv) newUser(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	u, err := e.auth.CreateUser(context.Background(), name, name+"@example.com", "password", role)
	require.NoError(t, err)
	return u
}

// newGroupWith 由 admin 创建群组，并按顺序加入 members。
func (e *testEnv) newGroupWith(t *testing.T, admin *models.User, name string, members ...*models.User) *GroupInfo {
	t.Helper()
	ctx := context.Background()
	info, err := e.group.CreateGroup(ctx, admin.ID, name)
	require.NoError(t, err)
	for _, m := range members {
		_, err := e.group.JoinGroup(ctx, m.ID, info.Code)
		require.NoError(t, err)
	}
	return info
}

// addGroupMessageAt 直接写入带指定时间戳的群消息。
func (e *testEnv) addGroupMessageAt(t *testing.T, groupID, senderID string, ts time.Time) {
	t.Helper()
	require.NoError(t, e.msgs.CreateGroupMessage(context.Background(), &models.GroupMessage{
		GroupID: groupID, SenderID: senderID, SenderDisplayName: "User", Text: "msg", Timestamp: ts,
	}))
}

func (e *testEnv) addDirectMessageAt(t *testing.T, a, b string, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	conv, _, err := e.direct.Ensure(ctx, a, b)
	require.NoError(t, err)
	require.NoError(t, e.msgs.CreateDirectMessage(ctx, &models.DirectMessage{
		ConversationID: conv.ID, SenderID: a, Text: "dm", Timestamp: ts,
	}))
}
