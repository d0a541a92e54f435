package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/chatlist"
	"anon-chat/internal/config"
	"anon-chat/internal/imtypes"
	"anon-chat/internal/models"
	"anon-chat/internal/viewmodel"
)

type fakeView struct {
	mu      sync.Mutex
	queries []string
	opened  []string
	updates chan chatlist.Update
	closed  bool
	seenAt  time.Time
}

func newFakeView() *fakeView {
	return &fakeView{updates: make(chan chatlist.Update, 4), seenAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (v *fakeView) Search(q string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = append(v.queries, q)
}

func (v *fakeView) Open(_ context.Context, ref models.ConversationRef) time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opened = append(v.opened, ref.Key())
	return v.seenAt
}

func (v *fakeView) Refresh(context.Context) error { return nil }

func (v *fakeView) Updates() <-chan chatlist.Update { return v.updates }

func (v *fakeView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.updates)
	}
}

func (v *fakeView) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

var testWSConfig = config.WebSocketConfig{
	WriteWaitSeconds:    5,
	PongWaitSeconds:     60,
	PingPeriodSeconds:   54,
	MaxMessageSizeBytes: 1024,
}

func startServer(t *testing.T, hub *Hub, view ChatList) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeChatList(hub, view, "u1", "phone", w, r, testWSConfig, zap.NewNop())
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) imtypes.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame imtypes.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChatListStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	view := newFakeView()
	conn := startServer(t, hub, view)

	view.updates <- chatlist.Update{Items: []viewmodel.ChatItem{{Key: "group-g1", Name: "Team", Unread: 2, Badge: "2"}}}
	frame := readFrame(t, conn)
	assert.Equal(t, imtypes.ChatsFrameType, frame.Type)
	require.Len(t, frame.Chats, 1)
	assert.Equal(t, "Team", frame.Chats[0].Name)
	assert.Empty(t, frame.Error)

	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(imtypes.ClientFrame{Type: imtypes.OpenFrameType, Kind: models.KindGroup, ID: "g1"}))
	frame = readFrame(t, conn)
	assert.Equal(t, imtypes.OpenedFrameType, frame.Type)
	assert.Equal(t, "group-g1", frame.Key)
	require.NotNil(t, frame.SeenAt)
	assert.True(t, view.seenAt.Equal(*frame.SeenAt))

	require.NoError(t, conn.WriteJSON(imtypes.ClientFrame{Type: imtypes.SearchFrameType, Query: "tea"}))
	require.NoError(t, conn.WriteJSON(imtypes.ClientFrame{Type: imtypes.OpenFrameType, Kind: "channel", ID: "x"}))
	frame = readFrame(t, conn)
	assert.Equal(t, imtypes.ErrorFrameType, frame.Type)

	view.mu.Lock()
	assert.Equal(t, []string{"tea"}, view.queries)
	view.mu.Unlock()

	view.updates <- chatlist.Update{Err: apperr.ErrStoreUnavailable}
	frame = readFrame(t, conn)
	assert.Equal(t, imtypes.ChatsFrameType, frame.Type)
	assert.Equal(t, apperr.Message(apperr.ErrStoreUnavailable), frame.Error)

	conn.Close()
	require.Eventually(t, view.isClosed, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Connections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubShutdownClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	view := newFakeView()
	conn := startServer(t, hub, view)
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, view.isClosed, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Connections())
}
