package imtypes

import (
	"time"

	"anon-chat/internal/models"
)

// ReportEvent 是发往审核 topic 的举报消息。
type ReportEvent struct {
	ReportID         string            `json:"reportId"`
	Type             models.ReportKind `json:"type"`
	ReportedUserID   string            `json:"reportedUserId,omitempty"`
	ReportedUserName string            `json:"reportedUserName,omitempty"`
	ReportedBy       string            `json:"reportedBy"`
	Reason           string            `json:"reason"`
	MessageContent   string            `json:"messageContent,omitempty"`
	GroupID          string            `json:"groupId,omitempty"`
	GroupName        string            `json:"groupName,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// NewReportEvent builds the event for a persisted report.
func NewReportEvent(r *models.Report) ReportEvent {
	return ReportEvent{
		ReportID:         r.ID,
		Type:             r.Kind,
		ReportedUserID:   r.ReportedUserID,
		ReportedUserName: r.ReportedUserName,
		ReportedBy:       r.ReportedBy,
		Reason:           r.Reason,
		MessageContent:   r.MessageContent,
		GroupID:          r.GroupID,
		GroupName:        r.GroupName,
		CreatedAt:        r.CreatedAt,
	}
}
