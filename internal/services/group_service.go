package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"anon-chat/internal/apperr"
	"anon-chat/internal/blocking"
	"anon-chat/internal/identity"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/storage"
)

const (
	maxGroupNameLength = 100
	codeAttempts       = 5
)

// GroupInfo 是管理员视角下的群组概要。
type GroupInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	JoinURL     string `json:"joinUrl"`
	MemberCount int    `json:"memberCount"`
}

// GroupMemberInfo 只暴露匿名标签，管理员同样看不到成员真实身份。
type GroupMemberInfo struct {
	Label string `json:"label"`
}

// GroupDetails 是管理员查看的群组详情。
type GroupDetails struct {
	GroupInfo
	Members []GroupMemberInfo `json:"members"`
}

// GroupPreview 是用户输入邀请码后看到的群组信息。
type GroupPreview struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	MemberCount int    `json:"memberCount"`
	IsMember    bool   `json:"isMember"`
}

// MyGroup 是用户已加入的群组及自己在群内的标签。
type MyGroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// GroupService 定义了群组相关服务的接口。
type GroupService interface {
	CreateGroup(ctx context.Context, adminID, name string) (*GroupInfo, error)
	ListAdminGroups(ctx context.Context, adminID string) ([]GroupInfo, error)
	GetGroupDetails(ctx context.Context, adminID, groupID string) (*GroupDetails, error)
	DeleteGroup(ctx context.Context, adminID, groupID string) error
	// QRCode 返回加群链接的 PNG 二维码。
	QRCode(ctx context.Context, adminID, groupID string, size int) ([]byte, error)

	FindGroupByCode(ctx context.Context, userID, input string) (*GroupPreview, error)
	JoinGroup(ctx context.Context, userID, input string) (*MyGroup, error)
	ListMyGroups(ctx context.Context, userID string) ([]MyGroup, error)
}

// groupService 是 GroupService 的实现。
type groupService struct {
	groupRepo storage.GroupRepository
	userRepo  storage.UserRepository
	bus       realtime.Bus
	baseURL   string
	logger    *zap.Logger
}

// NewGroupService 创建一个新的 GroupService 实例。
func NewGroupService(groupRepo storage.GroupRepository, userRepo storage.UserRepository, bus realtime.Bus, publicBaseURL string, logger *zap.Logger) GroupService {
	return &groupService{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		bus:       bus,
		baseURL:   publicBaseURL,
		logger:    logger,
	}
}

func (s *groupService) info(g *models.Group) GroupInfo {
	return GroupInfo{
		ID:          g.ID,
		Name:        g.Name,
		Code:        g.Code,
		JoinURL:     JoinURL(s.baseURL, g.Code),
		MemberCount: len(g.Members),
	}
}

func (s *groupService) requireAdmin(ctx context.Context, userID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotAuthenticated
		}
		return apperr.Store("获取用户", err)
	}
	if !user.IsAdmin() {
		return fmt.Errorf("%w: admin role required", apperr.ErrForbidden)
	}
	return nil
}

// ownedGroup 加载群组并确认它属于 adminID。
func (s *groupService) ownedGroup(ctx context.Context, adminID, groupID string) (*models.Group, error) {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("获取群组", err)
	}
	if group.AdminID != adminID {
		return nil, fmt.Errorf("%w: group %s is managed by another admin", apperr.ErrForbidden, groupID)
	}
	return group, nil
}

// CreateGroup 创建群组并分配唯一邀请码。管理员本人不加入群组。
func (s *groupService) CreateGroup(ctx context.Context, adminID, name string) (*GroupInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("群组名称不能为空")
	}
	if len(name) > maxGroupNameLength {
		return nil, apperr.Invalid("群组名称不能超过 %d 个字符", maxGroupNameLength)
	}
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := newGroupCode()
		if err != nil {
			return nil, fmt.Errorf("生成邀请码失败: %w", err)
		}
		taken, err := s.groupRepo.CodeExists(ctx, code)
		if err != nil {
			return nil, apperr.Store("检查邀请码", err)
		}
		if taken {
			continue
		}

		group := &models.Group{Name: name, Code: code, AdminID: adminID}
		if err := s.groupRepo.CreateGroup(ctx, group); err != nil {
			// 并发创建时唯一索引冲突，换一个邀请码重试
			lastErr = err
			s.logger.Warn("create group failed, retrying", zap.String("code", code), zap.Error(err))
			continue
		}
		s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("admin_id", adminID))
		info := s.info(group)
		return &info, nil
	}
	if lastErr != nil {
		return nil, apperr.Store("创建群组", lastErr)
	}
	return nil, fmt.Errorf("%w: could not allocate a unique group code", apperr.ErrStoreUnavailable)
}

// ListAdminGroups 列出管理员创建的群组。
func (s *groupService) ListAdminGroups(ctx context.Context, adminID string) ([]GroupInfo, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	groups, err := s.groupRepo.ListByAdmin(ctx, adminID)
	if err != nil {
		return nil, apperr.Store("列出群组", err)
	}
	out := make([]GroupInfo, 0, len(groups))
	for i := range groups {
		out = append(out, s.info(&groups[i]))
	}
	return out, nil
}

// GetGroupDetails 返回群组详情，成员按加入顺序以匿名标签列出。
func (s *groupService) GetGroupDetails(ctx context.Context, adminID, groupID string) (*GroupDetails, error) {
	group, err := s.ownedGroup(ctx, adminID, groupID)
	if err != nil {
		return nil, err
	}
	details := &GroupDetails{GroupInfo: s.info(group)}
	for i := range group.MemberIDs() {
		details.Members = append(details.Members, GroupMemberInfo{Label: identity.Label(i)})
	}
	return details, nil
}

// DeleteGroup 删除群组及其成员和消息，并通知所有成员刷新会话列表。
func (s *groupService) DeleteGroup(ctx context.Context, adminID, groupID string) error {
	group, err := s.ownedGroup(ctx, adminID, groupID)
	if err != nil {
		return err
	}
	members := group.MemberIDs()
	if err := s.groupRepo.DeleteGroup(ctx, groupID); err != nil {
		s.logger.Error("delete group failed", zap.String("group_id", groupID), zap.Error(err))
		return apperr.Store("删除群组", err)
	}
	topics := make([]string, 0, len(members)+1)
	for _, uid := range members {
		topics = append(topics, models.UserTopic(uid))
	}
	topics = append(topics, models.GroupRef(groupID).Topic())
	notify(ctx, s.bus, s.logger, topics...)
	s.logger.Info("group deleted", zap.String("group_id", groupID), zap.Int("members", len(members)))
	return nil
}

// QRCode 生成加群链接的二维码。
func (s *groupService) QRCode(ctx context.Context, adminID, groupID string, size int) ([]byte, error) {
	group, err := s.ownedGroup(ctx, adminID, groupID)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(JoinURL(s.baseURL, group.Code), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败: %w", err)
	}
	return png, nil
}

func (s *groupService) findByInput(ctx context.Context, input string) (*models.Group, error) {
	code := CodeFromInput(input)
	if code == "" {
		return nil, apperr.Invalid("group code is required")
	}
	group, err := s.groupRepo.GetGroupByCode(ctx, code)
	if err != nil {
		return nil, apperr.Store("查找群组 "+code, err)
	}
	return group, nil
}

// FindGroupByCode 按邀请码（或加群链接）查找群组，供加入前预览。
func (s *groupService) FindGroupByCode(ctx context.Context, userID, input string) (*GroupPreview, error) {
	group, err := s.findByInput(ctx, input)
	if err != nil {
		return nil, err
	}
	return &GroupPreview{
		ID:          group.ID,
		Name:        group.Name,
		Code:        group.Code,
		MemberCount: len(group.Members),
		IsMember:    group.HasMember(userID),
	}, nil
}

// JoinGroup 把用户追加到成员列表末尾。已是成员时返回 apperr.ErrAlreadyMember，成员列表不变。
func (s *groupService) JoinGroup(ctx context.Context, userID, input string) (*MyGroup, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	group, err := s.findByInput(ctx, input)
	if err != nil {
		return nil, err
	}

	added, err := s.groupRepo.AddMember(ctx, group.ID, userID)
	if err != nil {
		s.logger.Error("join group failed", zap.String("group_id", group.ID), zap.String("user_id", userID), zap.Error(err))
		return nil, apperr.Store("加入群组", err)
	}
	if !added {
		return nil, apperr.ErrAlreadyMember
	}

	// 重新读取以得到包含自己的成员顺序
	group, err = s.groupRepo.GetGroupByID(ctx, group.ID)
	if err != nil {
		return nil, apperr.Store("获取群组", err)
	}
	label, err := identity.Resolve(group.MemberIDs(), userID)
	if err != nil {
		return nil, err
	}
	notify(ctx, s.bus, s.logger, models.UserTopic(userID))
	s.logger.Info("user joined group", zap.String("group_id", group.ID), zap.String("user_id", userID), zap.String("label", label))
	return &MyGroup{ID: group.ID, Name: group.Name, Label: label}, nil
}

// ListMyGroups 列出用户加入的群组（按加入先后），屏蔽的群组不出现。
func (s *groupService) ListMyGroups(ctx context.Context, userID string) ([]MyGroup, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Store("获取用户", err)
	}
	groups, err := s.groupRepo.ListByMember(ctx, userID)
	if err != nil {
		return nil, apperr.Store("列出群组", err)
	}
	blocked := blocking.FromUser(user)
	out := make([]MyGroup, 0, len(groups))
	for _, g := range blocked.Groups(groups) {
		label, err := identity.Resolve(g.MemberIDs(), userID)
		if err != nil {
			continue
		}
		out = append(out, MyGroup{ID: g.ID, Name: g.Name, Label: identity.DisplayName(label, user.Alias)})
	}
	return out, nil
}
