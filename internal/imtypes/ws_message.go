package imtypes

import (
	"time"

	"anon-chat/internal/models"
	"anon-chat/internal/viewmodel"
)

// ClientFrameType 是客户端通过聊天列表 WebSocket 发来的指令类型。
type ClientFrameType string

const (
	SearchFrameType  ClientFrameType = "search"  // 按名称过滤，不重新查询
	OpenFrameType    ClientFrameType = "open"    // 打开会话，重置水位
	RefreshFrameType ClientFrameType = "refresh" // 重新聚合会话列表
)

// ClientFrame defines the structure of frames received from the client.
type ClientFrame struct {
	Type  ClientFrameType         `json:"type"`
	Query string                  `json:"query,omitempty"`
	Kind  models.ConversationKind `json:"kind,omitempty"`
	ID    string                  `json:"id,omitempty"`
}

// Ref 返回 open 指令指向的会话。
func (f ClientFrame) Ref() (models.ConversationRef, bool) {
	switch f.Kind {
	case models.KindGroup, models.KindDirect:
	default:
		return models.ConversationRef{}, false
	}
	if f.ID == "" {
		return models.ConversationRef{}, false
	}
	return models.ConversationRef{Kind: f.Kind, ID: f.ID}, true
}

// ServerFrameType 是服务端推送的帧类型。
type ServerFrameType string

const (
	ChatsFrameType  ServerFrameType = "chats"
	OpenedFrameType ServerFrameType = "opened"
	ErrorFrameType  ServerFrameType = "error"
)

// ServerFrame defines the structure of frames sent to the client.
type ServerFrame struct {
	Type      ServerFrameType      `json:"type"`
	Chats     []viewmodel.ChatItem `json:"chats,omitempty"`
	Key       string               `json:"key,omitempty"`
	SeenAt    *time.Time           `json:"seenAt,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// ChatsFrame 包装一次聊天列表渲染结果。
func ChatsFrame(items []viewmodel.ChatItem) ServerFrame {
	if items == nil {
		items = []viewmodel.ChatItem{}
	}
	return ServerFrame{Type: ChatsFrameType, Chats: items, Timestamp: time.Now().UTC()}
}

// ErrorFrame 包装一条用户可见的错误信息。
func ErrorFrame(msg string) ServerFrame {
	return ServerFrame{Type: ErrorFrameType, Error: msg, Timestamp: time.Now().UTC()}
}
