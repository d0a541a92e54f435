package services

import "context"

// ConfirmAction 标识需要用户确认的操作。
type ConfirmAction string

const (
	ConfirmBlockUser   ConfirmAction = "block_user"
	ConfirmBlockGroup  ConfirmAction = "block_group"
	ConfirmReportUser  ConfirmAction = "report_user"
	ConfirmReportGroup ConfirmAction = "report_group"
)

// ConfirmationRequest 描述一次需要用户确认的操作。
type ConfirmationRequest struct {
	Action ConfirmAction `json:"action"`
	Prompt string        `json:"prompt"`
	// NeedsReason 为 true 时回复中必须包含非空的 Reason。
	NeedsReason bool `json:"needsReason"`
}

// ConfirmationResponse 是用户对确认请求的回复。
type ConfirmationResponse struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason,omitempty"`
}

// Confirmer 向用户发起确认。实现可以是 HTTP 请求体、WebSocket 往返或命令行提示。
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)
}

// StaticConfirmer 用预先给定的回复答复所有确认请求，供非交互的调用方使用。
type StaticConfirmer ConfirmationResponse

// Confirm implements Confirmer.
func (s StaticConfirmer) Confirm(context.Context, ConfirmationRequest) (ConfirmationResponse, error) {
	return ConfirmationResponse(s), nil
}
