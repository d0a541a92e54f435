package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers 汇总了 API 服务器的全部处理器。
type Handlers struct {
	Auth         *AuthHandler
	User         *UserHandler
	Group        *GroupHandler
	Conversation *ConversationHandler
	Safety       *SafetyHandler
}

// NewRouter 注册所有路由。/auth 下的注册和登录是公开的，/api/v1 下的路由经过 authMW。
func NewRouter(h Handlers, authMW mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	// 认证路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)
	apiRouter.HandleFunc("/auth/logout", h.Auth.LogoutHandler).Methods(http.MethodPost)

	// 用户路由
	apiRouter.HandleFunc("/users/me", h.User.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me/alias", h.User.SetAliasHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/{userID}/block", h.Safety.BlockUserHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{userID}/report", h.Safety.ReportUserHandler).Methods(http.MethodPost)

	// 聊天列表
	apiRouter.HandleFunc("/chats", h.Conversation.ListChatsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/chats/stream", h.Conversation.StreamChatsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/chats/{kind:group|dm}/{id}/seen", h.Conversation.MarkSeenHandler).Methods(http.MethodPost)

	// 群组路由（管理员）
	apiRouter.HandleFunc("/admin/groups", h.Group.CreateGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/admin/groups", h.Group.ListAdminGroupsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/admin/groups/{groupID}", h.Group.GetGroupDetailsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/admin/groups/{groupID}", h.Group.DeleteGroupHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/admin/groups/{groupID}/qr", h.Group.GroupQRCodeHandler).Methods(http.MethodGet)

	// 群组路由（成员）
	apiRouter.HandleFunc("/groups", h.Group.ListMyGroupsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/find", h.Group.FindGroupHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/join", h.Group.JoinGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID}/open", h.Conversation.OpenGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID}/messages", h.Conversation.GetGroupMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{groupID}/messages", h.Conversation.SendGroupMessageHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID}/block", h.Safety.BlockGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID}/report", h.Safety.ReportGroupHandler).Methods(http.MethodPost)

	// 私聊路由
	apiRouter.HandleFunc("/dms/{userID}/open", h.Conversation.OpenDirectHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/dms/{userID}/messages", h.Conversation.GetDirectMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/dms/{userID}/messages", h.Conversation.SendDirectMessageHandler).Methods(http.MethodPost)

	return r
}
