package apiserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/services"
)

// SafetyHandler 封装了屏蔽与举报相关的 HTTP 处理器方法。
type SafetyHandler struct {
	safetyService services.SafetyService
	logger        *zap.Logger
}

// NewSafetyHandler 创建一个新的 SafetyHandler 实例。
func NewSafetyHandler(safetyService services.SafetyService, logger *zap.Logger) *SafetyHandler {
	return &SafetyHandler{safetyService: safetyService, logger: logger}
}

// ConfirmRequest 携带用户对确认对话框的回答。
// 未确认时服务端返回 428 和需要展示的确认内容，客户端确认后带上 confirmed 重新提交。
type ConfirmRequest struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason,omitempty"`
}

// ReportUserRequest 是举报用户的请求结构体。
type ReportUserRequest struct {
	ConfirmRequest
	GroupID        string `json:"groupId,omitempty"`
	MessageContent string `json:"messageContent,omitempty"`
}

// ConfirmationRequiredResponse 在用户尚未确认时返回。
type ConfirmationRequiredResponse struct {
	Error        string                        `json:"error"`
	Confirmation *services.ConfirmationRequest `json:"confirmation,omitempty"`
}

// bodyConfirmer 用请求体里的回答答复确认，并记下被询问的内容。
type bodyConfirmer struct {
	resp  services.ConfirmationResponse
	asked *services.ConfirmationRequest
}

func (c *bodyConfirmer) Confirm(_ context.Context, req services.ConfirmationRequest) (services.ConfirmationResponse, error) {
	c.asked = &req
	return c.resp, nil
}

func newBodyConfirmer(req ConfirmRequest) *bodyConfirmer {
	return &bodyConfirmer{resp: services.ConfirmationResponse{Confirmed: req.Confirmed, Reason: req.Reason}}
}

func (h *SafetyHandler) writeError(w http.ResponseWriter, op string, err error, confirm *bodyConfirmer) {
	if errors.Is(err, apperr.ErrCancelled) {
		writeJSONResponse(w, http.StatusPreconditionRequired, ConfirmationRequiredResponse{
			Error:        "confirmation required",
			Confirmation: confirm.asked,
		})
		return
	}
	writeServiceError(w, h.logger, op, err)
}

// BlockUserHandler 屏蔽用户：POST /users/{userID}/block
func (h *SafetyHandler) BlockUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	confirm := newBodyConfirmer(req)
	if err := h.safetyService.BlockUser(r.Context(), userID, mux.Vars(r)["userID"], confirm); err != nil {
		h.writeError(w, "block user", err, confirm)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已屏蔽该用户"})
}

// BlockGroupHandler 屏蔽群组：POST /groups/{groupID}/block
func (h *SafetyHandler) BlockGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	confirm := newBodyConfirmer(req)
	if err := h.safetyService.BlockGroup(r.Context(), userID, mux.Vars(r)["groupID"], confirm); err != nil {
		h.writeError(w, "block group", err, confirm)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已屏蔽该群组"})
}

// ReportUserHandler 举报用户：POST /users/{userID}/report
func (h *SafetyHandler) ReportUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ReportUserRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	confirm := newBodyConfirmer(req.ConfirmRequest)
	report, err := h.safetyService.ReportUser(r.Context(), services.ReportUserInput{
		ReporterID:     userID,
		TargetID:       mux.Vars(r)["userID"],
		GroupID:        req.GroupID,
		MessageContent: req.MessageContent,
	}, confirm)
	if err != nil {
		h.writeError(w, "report user", err, confirm)
		return
	}
	writeJSONResponse(w, http.StatusCreated, report)
}

// ReportGroupHandler 举报群组：POST /groups/{groupID}/report
func (h *SafetyHandler) ReportGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	confirm := newBodyConfirmer(req)
	report, err := h.safetyService.ReportGroup(r.Context(), userID, mux.Vars(r)["groupID"], confirm)
	if err != nil {
		h.writeError(w, "report group", err, confirm)
		return
	}
	writeJSONResponse(w, http.StatusCreated, report)
}
