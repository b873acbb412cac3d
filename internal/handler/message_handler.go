// Package handler 提供 HTTP 请求处理器
// 本文件处理消息收发、状态回调和统计相关的 API 请求
package handler

import (
	"kama_wa_simulator/internal/dto/request"
	"kama_wa_simulator/internal/dto/respond"
	"kama_wa_simulator/internal/service"
	"kama_wa_simulator/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息请求处理器
type MessageHandler struct {
	deliverySvc service.DeliveryService
	statusSvc   service.StatusService
	retrySvc    service.RetryService
}

// NewMessageHandler 创建消息处理器实例
func NewMessageHandler(deliverySvc service.DeliveryService, statusSvc service.StatusService, retrySvc service.RetryService) *MessageHandler {
	return &MessageHandler{
		deliverySvc: deliverySvc,
		statusSvc:   statusSvc,
		retrySvc:    retrySvc,
	}
}

// SendMessage 发送出站消息
// POST /message/sendMessage
// 请求体: request.SendMessageRequest
// 响应: respond.SendMessageRespond (queued 确认，后续状态通过事件推送)
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req request.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.deliverySvc.Send(req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// ReceiveMessage 摄入入站消息（上游 webhook 已解码为规范载荷）
// POST /message/receiveMessage
// 请求体: request.ReceiveMessageRequest
// 响应: respond.ReceiveMessageRespond
func (h *MessageHandler) ReceiveMessage(c *gin.Context) {
	var req request.ReceiveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.deliverySvc.Receive(req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// UpdateMessageStatus 外部状态回调（webhook）
// POST /message/updateStatus
// 请求体: request.UpdateStatusRequest
// 未知消息 ID 是良性情况（回调可能先于本地记录到达或消息已被清理），
// 只记日志并返回成功，避免上游无意义的重发
func (h *MessageHandler) UpdateMessageStatus(c *gin.Context) {
	var req request.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.statusSvc.UpdateStatus(req.MessageId, req.Status, req.Error, req.Reason); err != nil {
		if errorx.IsNotFound(err) {
			HandleSuccess(c, nil)
			return
		}
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// MarkChatRead 把对话中所有 sent/delivered 的出站消息批量置为已读
// POST /message/markChatRead
// 请求体: request.MarkChatReadRequest
// 响应: respond.MarkChatReadRespond
func (h *MessageHandler) MarkChatRead(c *gin.Context) {
	var req request.MarkChatReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.statusSvc.MarkChatRead(req.ChatId)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// GetMessageStats 聚合投递统计
// GET /message/getMessageStats?userId=xxx
// userId 为空时统计全部消息
// 响应: respond.StatsRespond
func (h *MessageHandler) GetMessageStats(c *gin.Context) {
	data, err := h.statusSvc.Stats(c.Query("userId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// RetryFailedMessages 手动触发一次失败消息重试扫描
// POST /message/retryFailed
// 响应: respond.RetryScanRespond
func (h *MessageHandler) RetryFailedMessages(c *gin.Context) {
	retried, err := h.retrySvc.Scan()
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.RetryScanRespond{Retried: retried})
}
