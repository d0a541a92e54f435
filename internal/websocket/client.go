package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/chatlist"
	"anon-chat/internal/config"
	"anon-chat/internal/imtypes"
	"anon-chat/internal/models"
)

// ChatList 是连接背后的实时聊天列表，由 *chatlist.View 实现。
type ChatList interface {
	Search(query string)
	Open(ctx context.Context, ref models.ConversationRef) time.Time
	Refresh(ctx context.Context) error
	Updates() <-chan chatlist.Update
	Close()
}

// Client is a middleman between the websocket connection and the chat list view.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames produced by readPump.
	send chan []byte

	// quit 由 Hub 关闭，通知 writePump 断开连接。
	quit     chan struct{}
	quitOnce sync.Once

	UserID string
	Device string

	view   ChatList
	cfg    config.WebSocketConfig
	logger *zap.Logger
}

func (c *Client) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// enqueue 非阻塞地排队一帧；发送队列满时丢弃。
func (c *Client) enqueue(frame imtypes.ServerFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal frame failed", zap.Error(err))
		return
	}
	select {
	case c.send <- b:
	default:
		c.logger.Warn("send queue full, dropping frame", zap.String("type", string(frame.Type)))
	}
}

// readPump reads client frames and applies them to the view.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.view.Close()
	}()
	pongWait := time.Duration(c.cfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(imtypes.ErrorFrame("malformed frame"))
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame imtypes.ClientFrame) {
	switch frame.Type {
	case imtypes.SearchFrameType:
		c.view.Search(frame.Query)
	case imtypes.OpenFrameType:
		ref, ok := frame.Ref()
		if !ok {
			c.enqueue(imtypes.ErrorFrame("open needs a conversation kind and id"))
			return
		}
		seenAt := c.view.Open(ctx, ref)
		c.enqueue(imtypes.ServerFrame{Type: imtypes.OpenedFrameType, Key: ref.Key(), SeenAt: &seenAt, Timestamp: time.Now().UTC()})
	case imtypes.RefreshFrameType:
		// 失败会随下一次渲染以 error 字段送出
		_ = c.view.Refresh(ctx)
	default:
		c.enqueue(imtypes.ErrorFrame("unknown frame type " + string(frame.Type)))
	}
}

// writePump writes rendered chat lists, replies and pings to the connection.
func (c *Client) writePump() {
	writeWait := time.Duration(c.cfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(c.cfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	updates := c.view.Updates()
	write := func(payload []byte) bool {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.TextMessage, payload) == nil
	}

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			frame := imtypes.ChatsFrame(u.Items)
			if u.Err != nil {
				frame.Error = apperr.Message(u.Err)
			}
			b, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("marshal chat list failed", zap.Error(err))
				continue
			}
			if !write(b) {
				return
			}
		case message := <-c.send:
			if !write(message) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeChatList 把请求升级为 WebSocket，并把 view 的渲染结果推送给客户端。
// 连接结束时 view 被关闭。
func ServeChatList(hub *Hub, view ChatList, userID, device string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, logger *zap.Logger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsCfg.MaxMessageSizeBytes,
		WriteBufferSize: wsCfg.MaxMessageSizeBytes,
		// 来源由 CORS 中间件和令牌校验把关
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		view.Close()
		return
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 16),
		quit:   make(chan struct{}),
		UserID: userID,
		Device: device,
		view:   view,
		cfg:    wsCfg,
		logger: logger.With(zap.String("user_id", userID), zap.String("device", device)),
	}
	if !hub.add(client) {
		conn.Close()
		view.Close()
		return
	}

	go client.writePump()
	go client.readPump(context.WithoutCancel(r.Context()))

	client.logger.Info("chat list connected")
}
