package apiserver

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"anon-chat/internal/services"
)

const duplicateWindow = 10 * time.Second

// GroupHandler 封装了群组相关的 HTTP 处理器方法。
type GroupHandler struct {
	groupService   services.GroupService
	qrSize         int
	logger         *zap.Logger
	requestLock    sync.Mutex
	recentRequests map[string]time.Time
}

// NewGroupHandler 创建一个新的 GroupHandler 实例。
func NewGroupHandler(groupService services.GroupService, qrSize int, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		groupService:   groupService,
		qrSize:         qrSize,
		logger:         logger,
		recentRequests: make(map[string]time.Time),
	}
}

// isRecentRequest 检查短时间内是否提交过同样的创建请求（例如按钮被连点）。
func (h *GroupHandler) isRecentRequest(key string) bool {
	h.requestLock.Lock()
	defer h.requestLock.Unlock()

	now := time.Now()
	for k, t := range h.recentRequests {
		if now.Sub(t) > duplicateWindow {
			delete(h.recentRequests, k)
		}
	}
	if _, exists := h.recentRequests[key]; exists {
		return true
	}
	h.recentRequests[key] = now
	return false
}

// CreateGroupRequest 是创建群组的请求结构体。
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// CreateGroupHandler 处理管理员创建群组的请求。
func (h *GroupHandler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if h.isRecentRequest(fmt.Sprintf("create_group:%s:%s", userID, req.Name)) {
		writeJSONError(w, "请求过于频繁，请稍后再试", http.StatusTooManyRequests)
		return
	}

	group, err := h.groupService.CreateGroup(r.Context(), userID, req.Name)
	if err != nil {
		writeServiceError(w, h.logger, "create group", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, group)
}

// ListAdminGroupsHandler 列出当前管理员创建的群组。
func (h *GroupHandler) ListAdminGroupsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groups, err := h.groupService.ListAdminGroups(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "list admin groups", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, groups)
}

// GetGroupDetailsHandler 获取群组详情（仅群组的管理员）。
func (h *GroupHandler) GetGroupDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	details, err := h.groupService.GetGroupDetails(r.Context(), userID, mux.Vars(r)["groupID"])
	if err != nil {
		writeServiceError(w, h.logger, "get group details", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, details)
}

// DeleteGroupHandler 删除群组。
func (h *GroupHandler) DeleteGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.groupService.DeleteGroup(r.Context(), userID, mux.Vars(r)["groupID"]); err != nil {
		writeServiceError(w, h.logger, "delete group", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "群组已删除"})
}

// GroupQRCodeHandler 返回加群链接的 PNG 二维码，可用 size 参数指定边长。
func (h *GroupHandler) GroupQRCodeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	size := h.qrSize
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 2048 {
			writeJSONError(w, "size 必须在 64 到 2048 之间", http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := h.groupService.QRCode(r.Context(), userID, mux.Vars(r)["groupID"], size)
	if err != nil {
		writeServiceError(w, h.logger, "group qr code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// FindGroupHandler 按邀请码或加群链接查找群组：GET /groups/find?code=...
func (h *GroupHandler) FindGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	preview, err := h.groupService.FindGroupByCode(r.Context(), userID, r.URL.Query().Get("code"))
	if err != nil {
		writeServiceError(w, h.logger, "find group", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, preview)
}

// JoinGroupRequest 接受邀请码或扫码得到的链接。
type JoinGroupRequest struct {
	Code string `json:"code"`
}

// JoinGroupHandler 处理用户加入群组的请求。
func (h *GroupHandler) JoinGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req JoinGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := h.groupService.JoinGroup(r.Context(), userID, req.Code)
	if err != nil {
		writeServiceError(w, h.logger, "join group", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// ListMyGroupsHandler 列出当前用户加入的群组。
func (h *GroupHandler) ListMyGroupsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groups, err := h.groupService.ListMyGroups(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "list my groups", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, groups)
}
