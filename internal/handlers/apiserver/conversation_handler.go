package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"anon-chat/internal/chatlist"
	"anon-chat/internal/config"
	"anon-chat/internal/middleware"
	"anon-chat/internal/models"
	"anon-chat/internal/services"
	ws "anon-chat/internal/websocket"
)

// ConversationHandler 封装了聊天列表与会话（群聊、私聊）相关的 HTTP 处理器方法。
type ConversationHandler struct {
	chatService services.ChatService
	views       *chatlist.Factory
	hub         *ws.Hub
	wsCfg       config.WebSocketConfig
	logger      *zap.Logger
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(chatService services.ChatService, views *chatlist.Factory, hub *ws.Hub, wsCfg config.WebSocketConfig, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		chatService: chatService,
		views:       views,
		hub:         hub,
		wsCfg:       wsCfg,
		logger:      logger,
	}
}

// ListChatsHandler 返回一次性渲染的聊天列表：GET /chats?q=...
func (h *ConversationHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	device := middleware.GetDeviceIDFromContext(r.Context())
	items, err := h.views.Snapshot(r.Context(), userID, device, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, h.logger, "list chats", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, items)
}

// StreamChatsHandler 把连接升级为 WebSocket 并持续推送聊天列表。
func (h *ConversationHandler) StreamChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	device := middleware.GetDeviceIDFromContext(r.Context())
	view, err := h.views.Open(r.Context(), userID, device)
	if err != nil {
		writeServiceError(w, h.logger, "open chat list", err)
		return
	}
	ws.ServeChatList(h.hub, view, userID, device, w, r, h.wsCfg, h.logger)
}

// MarkSeenHandler 把会话在当前设备上标记为已读：POST /chats/{kind}/{id}/seen
func (h *ConversationHandler) MarkSeenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	kind := models.ConversationKind(vars["kind"])
	if kind != models.KindGroup && kind != models.KindDirect {
		writeJSONError(w, "未知的会话类型", http.StatusBadRequest)
		return
	}
	ref := models.ConversationRef{Kind: kind, ID: vars["id"]}
	seenAt := h.chatService.MarkSeen(r.Context(), userID, middleware.GetDeviceIDFromContext(r.Context()), ref)
	writeJSONResponse(w, http.StatusOK, map[string]any{"key": ref.Key(), "seenAt": seenAt})
}

// SendMessageRequest 是发送消息的请求结构体。
type SendMessageRequest struct {
	Text string `json:"text"`
}

// OpenGroupHandler 打开群聊：重置水位并返回历史消息。
func (h *ConversationHandler) OpenGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	device := middleware.GetDeviceIDFromContext(r.Context())
	room, err := h.chatService.OpenGroup(r.Context(), userID, device, mux.Vars(r)["groupID"])
	if err != nil {
		writeServiceError(w, h.logger, "open group", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, room)
}

// GetGroupMessagesHandler 返回群聊消息（升序，已屏蔽用户的消息被隐藏）。
func (h *ConversationHandler) GetGroupMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.chatService.ListGroupMessages(r.Context(), userID, mux.Vars(r)["groupID"])
	if err != nil {
		writeServiceError(w, h.logger, "list group messages", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// SendGroupMessageHandler 发送群消息。
func (h *ConversationHandler) SendGroupMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chatService.SendGroupMessage(r.Context(), userID, mux.Vars(r)["groupID"], req.Text)
	if err != nil {
		writeServiceError(w, h.logger, "send group message", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg.Entry())
}

// OpenDirectHandler 打开（必要时创建）与某个用户的私聊。
func (h *ConversationHandler) OpenDirectHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	device := middleware.GetDeviceIDFromContext(r.Context())
	room, err := h.chatService.OpenDirect(r.Context(), userID, device, mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, h.logger, "open direct", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, room)
}

// GetDirectMessagesHandler 返回与某个用户的私聊消息。
func (h *ConversationHandler) GetDirectMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.chatService.ListDirectMessages(r.Context(), userID, mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, h.logger, "list direct messages", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// SendDirectMessageHandler 发送私信。
func (h *ConversationHandler) SendDirectMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chatService.SendDirectMessage(r.Context(), userID, mux.Vars(r)["userID"], req.Text)
	if err != nil {
		writeServiceError(w, h.logger, "send direct message", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg.Entry())
}
