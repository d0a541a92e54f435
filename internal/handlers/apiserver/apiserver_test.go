package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"anon-chat/internal/chatlist"
	"anon-chat/internal/config"
	"anon-chat/internal/middleware"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/services"
	"anon-chat/internal/storage"
	"anon-chat/internal/viewmodel"
	"anon-chat/internal/watermark"
	ws "anon-chat/internal/websocket"
)

var testAuthCfg = config.AuthConfig{JWTSecretKey: "api-secret", JWTExpiry: time.Hour}

type apiEnv struct {
	server *httptest.Server
	auth   services.AuthService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := zap.NewNop()
	require.NoError(t, storage.AutoMigrateTables(db, log))

	users := storage.NewGormUserRepository(db)
	groups := storage.NewGormGroupRepository(db)
	direct := storage.NewGormDirectConversationRepository(db)
	msgs := storage.NewGormMessageRepository(db)
	reports := storage.NewGormReportRepository(db)
	marks := watermark.NewMemoryStore()
	bus := realtime.NewLocalBus()

	authService := services.NewAuthService(users, nil, testAuthCfg, log)
	chatService := services.NewChatService(groups, users, direct, msgs, marks, bus, log)
	chatList := services.NewChatListService(groups, users, direct, msgs, log)
	views := chatlist.NewFactory(chatList, chatService, realtime.NewQueryFeed(bus, msgs, log), msgs, marks, bus, 0, log)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(log)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := NewRouter(Handlers{
		Auth:         NewAuthHandler(authService, log),
		User:         NewUserHandler(services.NewUserService(users, bus, log), log),
		Group:        NewGroupHandler(services.NewGroupService(groups, users, bus, "https://chat.example.com", log), 128, log),
		Conversation: NewConversationHandler(chatService, views, hub, config.WebSocketConfig{MaxMessageSizeBytes: 1024}, log),
		Safety:       NewSafetyHandler(services.NewSafetyService(users, groups, reports, nil, bus, log), log),
	}, middleware.AuthMiddleware(testAuthCfg, nil, log))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiEnv{server: server, auth: authService}
}

// login 创建用户并返回其 ID 和令牌。
func (e *apiEnv) login(t *testing.T, name string, role models.Role) (string, string) {
	t.Helper()
	ctx := context.Background()
	u, err := e.auth.CreateUser(ctx, name, name+"@example.com", "password", role)
	require.NoError(t, err)
	token, _, err := e.auth.Login(ctx, u.Email, "password")
	require.NoError(t, err)
	return u.ID, token
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRegisterAndLogin(t *testing.T) {
	env := newAPIEnv(t)

	status := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Ann", Email: "ann@example.com", Password: "secret1"}, nil)
	assert.Equal(t, http.StatusCreated, status)

	status = env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Ann", Email: "ann@example.com", Password: "secret1"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	var login LoginResponse
	status = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "ann@example.com", Password: "secret1"}, &login)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, login.Token)

	status = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "ann@example.com", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var me models.User
	status = env.do(t, http.MethodGet, "/api/v1/users/me", login.Token, nil, &me)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ann", me.Name)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	var resp ErrorResponse
	status := env.do(t, http.MethodGet, "/api/v1/chats", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, resp.Error)
}

func TestGroupFlowThroughAPI(t *testing.T) {
	env := newAPIEnv(t)
	_, adminToken := env.login(t, "admin", models.RoleAdmin)
	_, aliceToken := env.login(t, "alice", models.RoleUser)
	_, bobToken := env.login(t, "bob", models.RoleUser)

	var resp ErrorResponse
	status := env.do(t, http.MethodPost, "/api/v1/admin/groups", aliceToken, CreateGroupRequest{Name: "book club"}, &resp)
	assert.Equal(t, http.StatusForbidden, status)

	var group services.GroupInfo
	status = env.do(t, http.MethodPost, "/api/v1/admin/groups", adminToken, CreateGroupRequest{Name: "book club"}, &group)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "https://chat.example.com/join-group?code="+group.Code, group.JoinURL)

	var preview services.GroupPreview
	status = env.do(t, http.MethodGet, "/api/v1/groups/find?code="+url.QueryEscape(group.JoinURL), aliceToken, nil, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, group.ID, preview.ID)
	assert.False(t, preview.IsMember)

	var joined services.MyGroup
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/groups/join", aliceToken, JoinGroupRequest{Code: group.Code}, &joined))
	assert.Equal(t, "User 1", joined.Label)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/groups/join", bobToken, JoinGroupRequest{Code: group.Code}, &joined))
	assert.Equal(t, "User 2", joined.Label)

	status = env.do(t, http.MethodPost, "/api/v1/groups/join", bobToken, JoinGroupRequest{Code: group.Code}, &resp)
	assert.Equal(t, http.StatusConflict, status)

	var sent models.TimelineEntry
	status = env.do(t, http.MethodPost, "/api/v1/groups/"+group.ID+"/messages", aliceToken, SendMessageRequest{Text: "hello"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "User 1", sent.SenderDisplayName)

	var chats []viewmodel.ChatItem
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", bobToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, "book club", chats[0].Name)
	assert.Equal(t, 1, chats[0].Unread)

	var room services.GroupRoom
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/groups/"+group.ID+"/open", bobToken, nil, &room))
	assert.Equal(t, "User 2", room.Label)
	require.Len(t, room.Messages, 1)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", bobToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Zero(t, chats[0].Unread)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats?q=garden", bobToken, nil, &chats))
	assert.Empty(t, chats)

	var details services.GroupDetails
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/admin/groups/"+group.ID, adminToken, nil, &details))
	require.Len(t, details.Members, 2)
	assert.Equal(t, "User 1", details.Members[0].Label)
}

func TestSeenStateIsPerUserWithoutDeviceHeader(t *testing.T) {
	env := newAPIEnv(t)
	_, adminToken := env.login(t, "admin", models.RoleAdmin)
	_, aliceToken := env.login(t, "alice", models.RoleUser)
	_, bobToken := env.login(t, "bob", models.RoleUser)
	_, carolToken := env.login(t, "carol", models.RoleUser)

	var group services.GroupInfo
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/admin/groups", adminToken, CreateGroupRequest{Name: "Team"}, &group))
	var joined services.MyGroup
	for _, token := range []string{aliceToken, bobToken, carolToken} {
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/groups/join", token, JoinGroupRequest{Code: group.Code}, &joined))
	}
	var sent models.TimelineEntry
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/groups/"+group.ID+"/messages", aliceToken, SendMessageRequest{Text: "hello"}, &sent))

	var room services.GroupRoom
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/groups/"+group.ID+"/open", bobToken, nil, &room))

	var chats []viewmodel.ChatItem
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", bobToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Zero(t, chats[0].Unread)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", carolToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].Unread, "bob opening the group must not clear carol's unread")

	var seen map[string]any
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/chats/group/"+group.ID+"/seen", aliceToken, nil, &seen))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", carolToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].Unread)
}

func TestQRCodeEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, adminToken := env.login(t, "admin", models.RoleAdmin)

	var group services.GroupInfo
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/admin/groups", adminToken, CreateGroupRequest{Name: "qr"}, &group))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/admin/groups/"+group.ID+"/qr?size=96", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestBlockRequiresConfirmation(t *testing.T) {
	env := newAPIEnv(t)
	aliceID, aliceToken := env.login(t, "alice", models.RoleUser)
	bobID, bobToken := env.login(t, "bob", models.RoleUser)

	var pending ConfirmationRequiredResponse
	status := env.do(t, http.MethodPost, "/api/v1/users/"+aliceID+"/block", bobToken, nil, &pending)
	require.Equal(t, http.StatusPreconditionRequired, status)
	require.NotNil(t, pending.Confirmation)
	assert.Equal(t, services.ConfirmBlockUser, pending.Confirmation.Action)
	assert.NotEmpty(t, pending.Confirmation.Prompt)

	status = env.do(t, http.MethodPost, "/api/v1/users/"+aliceID+"/block", bobToken, ConfirmRequest{Confirmed: true}, nil)
	require.Equal(t, http.StatusOK, status)

	var resp ErrorResponse
	status = env.do(t, http.MethodPost, "/api/v1/dms/"+aliceID+"/open", bobToken, nil, &resp)
	assert.Equal(t, http.StatusForbidden, status)

	// 屏蔽是单向的
	var room services.DirectRoom
	status = env.do(t, http.MethodPost, "/api/v1/dms/"+bobID+"/open", aliceToken, nil, &room)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.DirectKey(aliceID, bobID), room.ConversationID)

	status = env.do(t, http.MethodPost, "/api/v1/users/"+bobID+"/block", bobToken, ConfirmRequest{Confirmed: true}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReportUserNeedsReason(t *testing.T) {
	env := newAPIEnv(t)
	aliceID, _ := env.login(t, "alice", models.RoleUser)
	_, bobToken := env.login(t, "bob", models.RoleUser)

	var resp ErrorResponse
	status := env.do(t, http.MethodPost, "/api/v1/users/"+aliceID+"/report", bobToken, ReportUserRequest{ConfirmRequest: ConfirmRequest{Confirmed: true}}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)

	var report models.Report
	status = env.do(t, http.MethodPost, "/api/v1/users/"+aliceID+"/report", bobToken, ReportUserRequest{
		ConfirmRequest: ConfirmRequest{Confirmed: true, Reason: "spam"},
		MessageContent: "buy now",
	}, &report)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "spam", report.Reason)
	assert.Equal(t, aliceID, report.ReportedUserID)
}

func TestDirectMessagesThroughAPI(t *testing.T) {
	env := newAPIEnv(t)
	aliceID, aliceToken := env.login(t, "alice", models.RoleUser)
	bobID, bobToken := env.login(t, "bob", models.RoleUser)

	status := env.do(t, http.MethodPost, "/api/v1/dms/"+bobID+"/messages", aliceToken, SendMessageRequest{Text: "hi bob"}, nil)
	require.Equal(t, http.StatusCreated, status)

	var msgs []models.TimelineEntry
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/dms/"+aliceID+"/messages", bobToken, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi bob", msgs[0].Text)

	var chats []viewmodel.ChatItem
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", bobToken, nil, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, models.KindDirect, chats[0].Kind)
	assert.Equal(t, 1, chats[0].Unread)

	var seen map[string]any
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/chats/dm/"+models.DirectKey(aliceID, bobID)+"/seen", bobToken, nil, &seen))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/chats", bobToken, nil, &chats))
	assert.Zero(t, chats[0].Unread)
}
