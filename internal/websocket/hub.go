package websocket

import (
	"context"

	"go.uber.org/zap"
)

// Hub maintains the set of active chat-list connections.
// A user may be connected from several devices at once.
type Hub struct {
	clients map[string]map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	count  chan chan int
	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.Named("ws.hub"),
	}
}

// Run 处理注册与注销，直到 ctx 结束；结束时通知所有连接关闭。
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			total := 0
			for userID, set := range h.clients {
				for c := range set {
					c.stop()
					total++
				}
				delete(h.clients, userID)
			}
			h.logger.Info("WebSocket hub stopped", zap.Int("closed_connections", total))
			return

		case client := <-h.register:
			set, ok := h.clients[client.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.UserID] = set
			}
			set[client] = struct{}{}
			h.logger.Debug("client registered", zap.String("user_id", client.UserID), zap.String("device", client.Device))

		case client := <-h.unregister:
			set, ok := h.clients[client.UserID]
			if !ok {
				continue
			}
			if _, ok := set[client]; !ok {
				continue
			}
			delete(set, client)
			if len(set) == 0 {
				delete(h.clients, client.UserID)
			}
			client.stop()
			h.logger.Debug("client unregistered", zap.String("user_id", client.UserID), zap.String("device", client.Device))

		case reply := <-h.count:
			n := 0
			for _, set := range h.clients {
				n += len(set)
			}
			reply <- n
		}
	}
}

// Connections 返回当前连接数；Hub 停止后返回 0。
func (h *Hub) Connections() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
