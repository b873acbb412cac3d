// Package router 提供 HTTP 路由注册
// 本文件是路由注册的入口，聚合所有子模块的路由
package router

import (
	"kama_wa_simulator/internal/handler"

	"github.com/gin-gonic/gin"
)

// Router 路由管理器，持有 Handler 聚合实例
type Router struct {
	handlers *handler.Handlers
}

// NewRouter 创建路由管理器
func NewRouter(handlers *handler.Handlers) *Router {
	return &Router{handlers: handlers}
}

// RegisterRoutes 注册所有路由
// 在 https_server.Init() 中调用，按模块分别注册各个路由组
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	root := r.Group("")
	rt.RegisterSessionRoutes(root)   // 会话生命周期路由
	rt.RegisterMessageRoutes(root)   // 消息收发与状态路由
	rt.RegisterWebSocketRoutes(root) // WebSocket 事件订阅路由
}
