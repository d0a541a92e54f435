package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"anon-chat/internal/apperr"
	"anon-chat/internal/blocking"
	"anon-chat/internal/identity"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/storage"
	"anon-chat/internal/watermark"
)

const (
	// RoomHistoryLimit 是打开会话时加载的历史消息条数。
	RoomHistoryLimit = 200
	maxMessageLength = 2000
)

// GroupRoom 是打开群聊后看到的内容。
type GroupRoom struct {
	GroupID     string                 `json:"groupId"`
	Name        string                 `json:"name"`
	Label       string                 `json:"label"`
	DisplayName string                 `json:"displayName"`
	MemberCount int                    `json:"memberCount"`
	SeenAt      time.Time              `json:"seenAt"`
	Messages    []models.TimelineEntry `json:"messages"`
}

// DirectRoom 是打开私聊后看到的内容。
type DirectRoom struct {
	ConversationID string                 `json:"conversationId"`
	PeerID         string                 `json:"peerId"`
	PeerLabel      string                 `json:"peerLabel"`
	GroupContext   string                 `json:"groupContext,omitempty"`
	SeenAt         time.Time              `json:"seenAt"`
	Messages       []models.TimelineEntry `json:"messages"`
}

// ChatService 定义了群聊与私聊的操作接口。
type ChatService interface {
	OpenGroup(ctx context.Context, userID, device, groupID string) (*GroupRoom, error)
	SendGroupMessage(ctx context.Context, userID, groupID, text string) (*models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, userID, groupID string) ([]models.TimelineEntry, error)

	OpenDirect(ctx context.Context, userID, device, peerID string) (*DirectRoom, error)
	SendDirectMessage(ctx context.Context, userID, peerID, text string) (*models.DirectMessage, error)
	ListDirectMessages(ctx context.Context, userID, peerID string) ([]models.TimelineEntry, error)

	// MarkSeen 把会话在该用户该设备上的水位设为当前时间。
	MarkSeen(ctx context.Context, userID, device string, ref models.ConversationRef) time.Time
}

type chatService struct {
	groupRepo  storage.GroupRepository
	userRepo   storage.UserRepository
	directRepo storage.DirectConversationRepository
	msgRepo    storage.MessageRepository
	marks      watermark.Store
	bus        realtime.Bus
	logger     *zap.Logger
	now        func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	groupRepo storage.GroupRepository,
	userRepo storage.UserRepository,
	directRepo storage.DirectConversationRepository,
	msgRepo storage.MessageRepository,
	marks watermark.Store,
	bus realtime.Bus,
	logger *zap.Logger,
) ChatService {
	return &chatService{
		groupRepo:  groupRepo,
		userRepo:   userRepo,
		directRepo: directRepo,
		msgRepo:    msgRepo,
		marks:      marks,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

func validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Invalid("message text is required")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return "", apperr.Invalid("message must be at most %d characters", maxMessageLength)
	}
	return text, nil
}

// timestamp 统一为 UTC 毫秒精度，与水位存储的精度一致。
func (s *chatService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *chatService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotAuthenticated
		}
		return nil, apperr.Store("获取用户", err)
	}
	return user, nil
}

// memberGroup 加载群组并解析 userID 的匿名标签。
func (s *chatService) memberGroup(ctx context.Context, userID, groupID string) (*models.Group, string, error) {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, "", apperr.Store("获取群组", err)
	}
	label, err := identity.Resolve(group.MemberIDs(), userID)
	if err != nil {
		return nil, "", err
	}
	return group, label, nil
}

// MarkSeen 写入水位并通知该会话的订阅者重新计数。
func (s *chatService) MarkSeen(ctx context.Context, userID, device string, ref models.ConversationRef) time.Time {
	seenAt := watermark.ForDevice(s.marks, userID, device, s.logger).MarkSeen(ctx, ref)
	notify(ctx, s.bus, s.logger, ref.Topic())
	return seenAt
}

// OpenGroup 检查成员资格，先重置水位，再加载历史消息。
func (s *chatService) OpenGroup(ctx context.Context, userID, device, groupID string) (*GroupRoom, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	group, label, err := s.memberGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	seenAt := s.MarkSeen(ctx, userID, device, models.GroupRef(group.ID))

	msgs, err := s.msgRepo.ListGroupMessages(ctx, group.ID, RoomHistoryLimit)
	if err != nil {
		s.logger.Error("load group history failed", zap.String("group_id", group.ID), zap.Error(err))
		return nil, apperr.Store("加载群消息", err)
	}
	return &GroupRoom{
		GroupID:     group.ID,
		Name:        group.Name,
		Label:       label,
		DisplayName: identity.DisplayName(label, user.Alias),
		MemberCount: len(group.Members),
		SeenAt:      seenAt,
		Messages:    blocking.FromUser(user).Messages(groupEntries(msgs)),
	}, nil
}

// SendGroupMessage 以发送者当前的标签(+昵称)保存群消息。
func (s *chatService) SendGroupMessage(ctx context.Context, userID, groupID, text string) (*models.GroupMessage, error) {
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	group, label, err := s.memberGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	msg := &models.GroupMessage{
		GroupID:           group.ID,
		SenderID:          userID,
		SenderDisplayName: identity.DisplayName(label, user.Alias),
		Text:              text,
		Timestamp:         s.timestamp(),
	}
	if err := s.msgRepo.CreateGroupMessage(ctx, msg); err != nil {
		s.logger.Error("send group message failed", zap.String("group_id", group.ID), zap.Error(err))
		return nil, apperr.Store("发送群消息", err)
	}
	// 成员的会话列表按最近活动排序，发送者自己也需要刷新
	topics := []string{models.GroupRef(group.ID).Topic()}
	for _, id := range group.MemberIDs() {
		topics = append(topics, models.UserTopic(id))
	}
	notify(ctx, s.bus, s.logger, topics...)
	return msg, nil
}

// ListGroupMessages 返回升序的群消息，已屏蔽用户的消息被隐藏。
func (s *chatService) ListGroupMessages(ctx context.Context, userID, groupID string) ([]models.TimelineEntry, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	group, _, err := s.memberGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.msgRepo.ListGroupMessages(ctx, group.ID, RoomHistoryLimit)
	if err != nil {
		return nil, apperr.Store("加载群消息", err)
	}
	return blocking.FromUser(user).Messages(groupEntries(msgs)), nil
}

// peerContext 在 groups（当前用户加入的群，按加入先后）中找到第一个对方也在的群，
// 返回对方在该群的标签和群名；没有共同群时使用 "User"。
func peerContext(groups []models.Group, peerID string) (label, groupName string) {
	for _, g := range groups {
		if l, err := identity.Resolve(g.MemberIDs(), peerID); err == nil {
			return l, g.Name
		}
	}
	return identity.FallbackLabel, ""
}

func (s *chatService) directPeer(ctx context.Context, user *models.User, peerID string) (*models.User, error) {
	if err := blocking.ValidateTarget(user.ID, peerID); err != nil {
		return nil, err
	}
	peer, err := s.userRepo.GetByID(ctx, peerID)
	if err != nil {
		return nil, apperr.Store("获取对方用户", err)
	}
	if blocking.FromUser(user).UserBlocked(peerID) {
		return nil, apperr.ErrBlocked
	}
	return peer, nil
}

// OpenDirect 打开（必要时创建）与 peerID 的私聊，并重置水位。
func (s *chatService) OpenDirect(ctx context.Context, userID, device, peerID string) (*DirectRoom, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	peer, err := s.directPeer(ctx, user, peerID)
	if err != nil {
		return nil, err
	}

	conv, created, err := s.directRepo.Ensure(ctx, user.ID, peer.ID)
	if err != nil {
		s.logger.Error("ensure direct conversation failed", zap.String("user_id", userID), zap.String("peer_id", peerID), zap.Error(err))
		return nil, apperr.Store("创建私聊", err)
	}
	if created {
		notify(ctx, s.bus, s.logger, models.UserTopic(user.ID), models.UserTopic(peer.ID))
	}
	ref := models.DirectRef(conv.ID)
	seenAt := s.MarkSeen(ctx, user.ID, device, ref)

	groups, err := s.groupRepo.ListByMember(ctx, user.ID)
	if err != nil {
		return nil, apperr.Store("列出群组", err)
	}
	label, groupName := peerContext(groups, peer.ID)

	msgs, err := s.msgRepo.ListDirectMessages(ctx, conv.ID, RoomHistoryLimit)
	if err != nil {
		return nil, apperr.Store("加载私聊消息", err)
	}
	return &DirectRoom{
		ConversationID: conv.ID,
		PeerID:         peer.ID,
		PeerLabel:      identity.DisplayName(label, peer.Alias),
		GroupContext:   groupName,
		SeenAt:         seenAt,
		Messages:       blocking.FromUser(user).Messages(directEntries(msgs)),
	}, nil
}

// SendDirectMessage 发送私信。屏蔽是单向的：被对方屏蔽时仍可发送，只是对方看不到。
func (s *chatService) SendDirectMessage(ctx context.Context, userID, peerID, text string) (*models.DirectMessage, error) {
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	peer, err := s.directPeer(ctx, user, peerID)
	if err != nil {
		return nil, err
	}

	conv, _, err := s.directRepo.Ensure(ctx, user.ID, peer.ID)
	if err != nil {
		return nil, apperr.Store("创建私聊", err)
	}
	msg := &models.DirectMessage{
		ConversationID: conv.ID,
		SenderID:       user.ID,
		Text:           text,
		Timestamp:      s.timestamp(),
	}
	if err := s.msgRepo.CreateDirectMessage(ctx, msg); err != nil {
		s.logger.Error("send direct message failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil, apperr.Store("发送私信", err)
	}
	// 双方的会话列表都要按最近活动重排
	notify(ctx, s.bus, s.logger, models.DirectRef(conv.ID).Topic(), models.UserTopic(user.ID), models.UserTopic(peer.ID))
	return msg, nil
}

// ListDirectMessages 返回与 peerID 的私聊消息（升序）。
func (s *chatService) ListDirectMessages(ctx context.Context, userID, peerID string) ([]models.TimelineEntry, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	peer, err := s.directPeer(ctx, user, peerID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.msgRepo.ListDirectMessages(ctx, models.DirectKey(user.ID, peer.ID), RoomHistoryLimit)
	if err != nil {
		return nil, apperr.Store("加载私聊消息", err)
	}
	return blocking.FromUser(user).Messages(directEntries(msgs)), nil
}

func groupEntries(msgs []models.GroupMessage) []models.TimelineEntry {
	out := make([]models.TimelineEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Entry())
	}
	return out
}

func directEntries(msgs []models.DirectMessage) []models.TimelineEntry {
	out := make([]models.TimelineEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Entry())
	}
	return out
}
