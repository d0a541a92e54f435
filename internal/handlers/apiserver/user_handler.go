package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"anon-chat/internal/services"
)

// UserHandler 封装了用户相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
	logger      *zap.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

// GetMyProfileHandler 处理获取当前登录用户信息的请求。
func (h *UserHandler) GetMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "get profile", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// SetAliasRequest 是设置昵称的请求结构体，空字符串表示清除。
type SetAliasRequest struct {
	Alias string `json:"alias"`
}

// SetAliasHandler 处理设置昵称的请求。
func (h *UserHandler) SetAliasHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req SetAliasRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.userService.SetAlias(r.Context(), userID, req.Alias)
	if err != nil {
		writeServiceError(w, h.logger, "set alias", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}
