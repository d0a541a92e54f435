package services

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"anon-chat/internal/blocking"
	"anon-chat/internal/identity"
	"anon-chat/internal/models"
	"anon-chat/internal/storage"
)

// ChatListService 把用户的群聊和私聊合并成一个按最近活动排序的会话列表。
type ChatListService interface {
	Aggregate(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

type chatListService struct {
	groupRepo  storage.GroupRepository
	userRepo   storage.UserRepository
	directRepo storage.DirectConversationRepository
	msgRepo    storage.MessageRepository
	logger     *zap.Logger
}

// NewChatListService 创建一个新的 ChatListService 实例。
func NewChatListService(
	groupRepo storage.GroupRepository,
	userRepo storage.UserRepository,
	directRepo storage.DirectConversationRepository,
	msgRepo storage.MessageRepository,
	logger *zap.Logger,
) ChatListService {
	return &chatListService{
		groupRepo:  groupRepo,
		userRepo:   userRepo,
		directRepo: directRepo,
		msgRepo:    msgRepo,
		logger:     logger,
	}
}

// Aggregate 构建会话列表：
//   - 群聊按加入先后枚举，去掉屏蔽的群，名称为群名，附带自己的标签；
//   - 私聊去掉对方被屏蔽或对方记录缺失的会话，名称为对方在第一个共同群里的标签；
//   - 最后按最近一条消息时间降序稳定排序，没有消息的会话排在最后。
func (s *chatListService) Aggregate(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(s.logger, "获取用户", err)
	}
	blocks := blocking.FromUser(user)

	groups, err := s.groupRepo.ListByMember(ctx, userID)
	if err != nil {
		return nil, storeErr(s.logger, "列出群组", err)
	}
	convs, err := s.directRepo.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, storeErr(s.logger, "列出私聊", err)
	}

	list := make([]models.ConversationSummary, 0, len(groups)+len(convs))
	for _, g := range blocks.Groups(groups) {
		label, err := identity.Resolve(g.MemberIDs(), userID)
		if err != nil {
			s.logger.Warn("group listed for non-member, skipping", zap.String("group_id", g.ID), zap.String("user_id", userID))
			continue
		}
		ref := models.GroupRef(g.ID)
		list = append(list, models.ConversationSummary{
			Ref:           ref,
			Name:          g.Name,
			DisplayName:   identity.DisplayName(label, user.Alias),
			LastMessageAt: s.lastMessageAt(ctx, ref),
		})
	}

	visible := blocks.Direct(userID, convs)
	peerIDs := make([]string, 0, len(visible))
	for _, c := range visible {
		peerIDs = append(peerIDs, c.Other(userID))
	}
	peers, err := s.userRepo.GetByIDs(ctx, peerIDs)
	if err != nil {
		return nil, storeErr(s.logger, "获取私聊对象", err)
	}
	for _, c := range visible {
		peerID := c.Other(userID)
		peer, ok := peers[peerID]
		if !ok {
			s.logger.Warn("direct conversation partner missing, skipping",
				zap.String("conversation_id", c.ID), zap.String("peer_id", peerID))
			continue
		}
		// 共同群的查找包含已屏蔽的群
		label, groupName := peerContext(groups, peerID)
		ref := models.DirectRef(c.ID)
		list = append(list, models.ConversationSummary{
			Ref:           ref,
			Name:          identity.DisplayName(label, peer.Alias),
			PeerID:        peerID,
			GroupContext:  groupName,
			LastMessageAt: s.lastMessageAt(ctx, ref),
		})
	}

	SortByActivity(list)
	return list, nil
}

// lastMessageAt 读取失败时按“没有消息”处理，列表仍然可以展示。
func (s *chatListService) lastMessageAt(ctx context.Context, ref models.ConversationRef) (ts time.Time) {
	entries, err := s.msgRepo.Latest(ctx, ref, 1)
	if err != nil {
		s.logger.Warn("load last message failed", zap.String("conversation", ref.Key()), zap.Error(err))
		return ts
	}
	if len(entries) > 0 {
		ts = entries[0].Timestamp
	}
	return ts
}

// SortByActivity 按最近消息时间降序稳定排序；零值（没有消息）排在最后。
func SortByActivity(list []models.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
