// Package router 提供 HTTP 路由注册
// 本文件定义 WebSocket 事件订阅相关的路由
package router

import (
	"kama_wa_simulator/internal/handler"

	"github.com/gin-gonic/gin"
)

// RegisterWebSocketRoutes 注册 WebSocket 相关路由
func (rt *Router) RegisterWebSocketRoutes(rg *gin.RouterGroup) {
	// WebSocket 连接入口
	// 请求示例: ws://host:port/wss?userId=U123456789&chatId=C987654321
	rg.GET("/wss", handler.WsSubscribeHandler)
}
