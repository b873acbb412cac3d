// Package handler 提供 HTTP 请求处理器
// 本文件处理会话生命周期相关的 API 请求
package handler

import (
	"errors"

	"kama_wa_simulator/internal/dto/request"
	"kama_wa_simulator/internal/service"

	"github.com/gin-gonic/gin"
)

var errMissingUserId = errors.New("userId is required")

// SessionHandler 会话请求处理器
// 通过构造函数注入 SessionService，遵循依赖倒置原则
type SessionHandler struct {
	sessionSvc service.SessionService
}

// NewSessionHandler 创建会话处理器实例
func NewSessionHandler(sessionSvc service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// StartSession 启动会话（开始模拟连接流程）
// POST /session/startSession
// 请求体: request.StartSessionRequest
// 响应: string (启动后的会话状态)
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req request.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	status, err := h.sessionSvc.Start(req.UserId)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, status)
}

// StopSession 停止会话并断开连接
// POST /session/stopSession
// 请求体: request.StopSessionRequest
// 响应: nil
func (h *SessionHandler) StopSession(c *gin.Context) {
	var req request.StopSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.sessionSvc.Stop(req.UserId); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// GetSessionStatus 查询会话状态
// GET /session/getSessionStatus?userId=xxx
// 响应: respond.SessionStatusRespond
func (h *SessionHandler) GetSessionStatus(c *gin.Context) {
	userId := c.Query("userId")
	if userId == "" {
		HandleParamError(c, errMissingUserId)
		return
	}
	data, err := h.sessionSvc.GetStatus(userId)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}
