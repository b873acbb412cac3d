// Package router 提供 HTTP 路由注册
// 本文件定义消息收发、状态回调和统计相关的路由
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterMessageRoutes 注册消息相关路由
func (rt *Router) RegisterMessageRoutes(rg *gin.RouterGroup) {
	messageGroup := rg.Group("/message")
	{
		messageGroup.POST("/sendMessage", rt.handlers.Message.SendMessage)          // 发送出站消息
		messageGroup.POST("/receiveMessage", rt.handlers.Message.ReceiveMessage)    // 摄入入站消息
		messageGroup.POST("/updateStatus", rt.handlers.Message.UpdateMessageStatus) // 外部状态回调
		messageGroup.POST("/markChatRead", rt.handlers.Message.MarkChatRead)        // 对话整体标记已读
		messageGroup.GET("/getMessageStats", rt.handlers.Message.GetMessageStats)   // 投递统计
		messageGroup.POST("/retryFailed", rt.handlers.Message.RetryFailedMessages)  // 手动触发重试扫描
	}
}
