// Package handler 提供 HTTP 请求处理器
// 本文件处理 WebSocket 订阅连接的建立
package handler

import (
	"net/http"

	myredis "kama_wa_simulator/internal/dao/redis"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/pkg/errorx"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WsSubscribeHandler WebSocket 订阅（升级 HTTP 连接为 WebSocket）
// GET /ws/subscribe?userId=xxx&chatId=yyy
// 查询参数:
//   - userId: 必填，订阅该用户的会话状态和消息状态事件
//   - chatId: 可选，额外订阅该对话的事件
func WsSubscribeHandler(c *gin.Context) {
	userId := c.Query("userId")
	if userId == "" {
		zap.L().Error("userId获取失败")
		c.JSON(http.StatusOK, gin.H{
			"code": errorx.CodeInvalidParam,
			"msg":  "userId获取失败",
		})
		return
	}

	groups := []string{event.UserGroup(userId)}
	if chatId := c.Query("chatId"); chatId != "" {
		groups = append(groups, event.ChatGroup(chatId))
	}

	// 升级连接并注册到广播器
	chat.NewSubscriberInit(c, groups, myredis.GetCacheService())
}
