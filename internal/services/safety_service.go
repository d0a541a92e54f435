package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"anon-chat/internal/apperr"
	"anon-chat/internal/blocking"
	"anon-chat/internal/identity"
	"anon-chat/internal/models"
	"anon-chat/internal/realtime"
	"anon-chat/internal/storage"
)

const maxReasonLength = 1000

// ReportPublisher 把举报转发给审核方，由 kafka.ReportPublisher 实现。
type ReportPublisher interface {
	PublishReport(ctx context.Context, report *models.Report) error
}

// ReportUserInput 描述对某个用户的举报。GroupID 和 MessageContent 为可选上下文。
type ReportUserInput struct {
	ReporterID     string
	TargetID       string
	GroupID        string
	MessageContent string
}

// SafetyService 定义了屏蔽与举报操作的接口。所有操作都先经过 Confirmer 确认。
type SafetyService interface {
	BlockUser(ctx context.Context, userID, targetID string, confirm Confirmer) error
	BlockGroup(ctx context.Context, userID, groupID string, confirm Confirmer) error
	ReportUser(ctx context.Context, in ReportUserInput, confirm Confirmer) (*models.Report, error)
	ReportGroup(ctx context.Context, reporterID, groupID string, confirm Confirmer) (*models.Report, error)
}

type safetyService struct {
	userRepo   storage.UserRepository
	groupRepo  storage.GroupRepository
	reportRepo storage.ReportRepository
	publisher  ReportPublisher
	bus        realtime.Bus
	logger     *zap.Logger
}

// NewSafetyService 创建一个新的 SafetyService 实例。publisher 可以为 nil，此时举报只落库。
func NewSafetyService(
	userRepo storage.UserRepository,
	groupRepo storage.GroupRepository,
	reportRepo storage.ReportRepository,
	publisher ReportPublisher,
	bus realtime.Bus,
	logger *zap.Logger,
) SafetyService {
	return &safetyService{
		userRepo:   userRepo,
		groupRepo:  groupRepo,
		reportRepo: reportRepo,
		publisher:  publisher,
		bus:        bus,
		logger:     logger,
	}
}

// ask 发起确认，未确认时返回 apperr.ErrCancelled；需要理由时校验理由非空。
func ask(ctx context.Context, confirm Confirmer, req ConfirmationRequest) (ConfirmationResponse, error) {
	if confirm == nil {
		return ConfirmationResponse{}, apperr.ErrCancelled
	}
	resp, err := confirm.Confirm(ctx, req)
	if err != nil {
		return ConfirmationResponse{}, fmt.Errorf("confirm %s: %w", req.Action, err)
	}
	if !resp.Confirmed {
		return ConfirmationResponse{}, apperr.ErrCancelled
	}
	resp.Reason = strings.TrimSpace(resp.Reason)
	if req.NeedsReason {
		if resp.Reason == "" {
			return ConfirmationResponse{}, apperr.Invalid("a reason is required")
		}
		if len(resp.Reason) > maxReasonLength {
			return ConfirmationResponse{}, apperr.Invalid("reason must be at most %d characters", maxReasonLength)
		}
	}
	return resp, nil
}

func (s *safetyService) target(ctx context.Context, selfID, targetID string) (*models.User, error) {
	if selfID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	if err := blocking.ValidateTarget(selfID, targetID); err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Store("获取被操作用户", err)
		}
		return nil, storeErr(s.logger, "获取被操作用户", err)
	}
	return user, nil
}

// BlockUser 屏蔽用户。对方的消息和私聊从自己的视图中消失，对方不受影响。
func (s *safetyService) BlockUser(ctx context.Context, userID, targetID string, confirm Confirmer) error {
	if _, err := s.target(ctx, userID, targetID); err != nil {
		return err
	}
	if _, err := ask(ctx, confirm, ConfirmationRequest{
		Action: ConfirmBlockUser,
		Prompt: "Block this user? Their messages will be hidden from you.",
	}); err != nil {
		return err
	}
	if err := s.userRepo.AddBlockedUser(ctx, userID, targetID); err != nil {
		return storeErr(s.logger, "屏蔽用户", err)
	}
	notify(ctx, s.bus, s.logger, models.UserTopic(userID))
	s.logger.Info("user blocked", zap.String("user_id", userID), zap.String("target_id", targetID))
	return nil
}

// BlockGroup 屏蔽群组，群组从自己的会话列表中消失。
func (s *safetyService) BlockGroup(ctx context.Context, userID, groupID string, confirm Confirmer) error {
	if userID == "" {
		return apperr.ErrNotAuthenticated
	}
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return apperr.Store("获取群组", err)
	}
	if _, err := ask(ctx, confirm, ConfirmationRequest{
		Action: ConfirmBlockGroup,
		Prompt: fmt.Sprintf("Block %q? It will disappear from your chats.", group.Name),
	}); err != nil {
		return err
	}
	if err := s.userRepo.AddBlockedGroup(ctx, userID, group.ID); err != nil {
		return storeErr(s.logger, "屏蔽群组", err)
	}
	notify(ctx, s.bus, s.logger, models.UserTopic(userID))
	s.logger.Info("group blocked", zap.String("user_id", userID), zap.String("group_id", group.ID))
	return nil
}

// ReportUser 举报用户。被举报者以匿名标签记录，理由必填。
func (s *safetyService) ReportUser(ctx context.Context, in ReportUserInput, confirm Confirmer) (*models.Report, error) {
	if _, err := s.target(ctx, in.ReporterID, in.TargetID); err != nil {
		return nil, err
	}

	report := &models.Report{
		Kind:             models.ReportUser,
		ReportedUserID:   in.TargetID,
		ReportedUserName: identity.FallbackLabel,
		ReportedBy:       in.ReporterID,
		MessageContent:   strings.TrimSpace(in.MessageContent),
	}
	if in.GroupID != "" {
		group, err := s.groupRepo.GetGroupByID(ctx, in.GroupID)
		if err != nil {
			return nil, apperr.Store("获取群组", err)
		}
		report.GroupID, report.GroupName = group.ID, group.Name
		if label, err := identity.Resolve(group.MemberIDs(), in.TargetID); err == nil {
			report.ReportedUserName = label
		}
	}

	resp, err := ask(ctx, confirm, ConfirmationRequest{
		Action:      ConfirmReportUser,
		Prompt:      fmt.Sprintf("Report %s? Tell us what happened.", report.ReportedUserName),
		NeedsReason: true,
	})
	if err != nil {
		return nil, err
	}
	report.Reason = resp.Reason
	return s.submit(ctx, report)
}

// ReportGroup 举报群组，理由必填。
func (s *safetyService) ReportGroup(ctx context.Context, reporterID, groupID string, confirm Confirmer) (*models.Report, error) {
	if reporterID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("获取群组", err)
	}
	resp, err := ask(ctx, confirm, ConfirmationRequest{
		Action:      ConfirmReportGroup,
		Prompt:      fmt.Sprintf("Report %q? Tell us what happened.", group.Name),
		NeedsReason: true,
	})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, &models.Report{
		Kind:       models.ReportGroup,
		ReportedBy: reporterID,
		Reason:     resp.Reason,
		GroupID:    group.ID,
		GroupName:  group.Name,
	})
}

// submit 保存举报并转发给审核方；转发失败只记录日志。
func (s *safetyService) submit(ctx context.Context, report *models.Report) (*models.Report, error) {
	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, storeErr(s.logger, "保存举报", err)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReport(ctx, report); err != nil {
			s.logger.Error("publish report failed", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
	s.logger.Info("report submitted",
		zap.String("report_id", report.ID),
		zap.String("type", string(report.Kind)),
		zap.String("reported_by", report.ReportedBy))
	return report, nil
}
