// Package router 提供 HTTP 路由注册
// 本文件定义会话生命周期相关的路由
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterSessionRoutes 注册会话相关路由
// 包括会话的启动、停止和状态查询
func (rt *Router) RegisterSessionRoutes(rg *gin.RouterGroup) {
	sessionGroup := rg.Group("/session")
	{
		sessionGroup.POST("/startSession", rt.handlers.Session.StartSession)        // 启动会话
		sessionGroup.POST("/stopSession", rt.handlers.Session.StopSession)          // 停止会话
		sessionGroup.GET("/getSessionStatus", rt.handlers.Session.GetSessionStatus) // 查询会话状态
	}
}
