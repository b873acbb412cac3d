// Package service 提供业务逻辑层
// 本文件定义各 Service 的接口，Handler 层和调度器只依赖接口
package service

import (
	"kama_wa_simulator/internal/dto/request"
	"kama_wa_simulator/internal/dto/respond"
	"kama_wa_simulator/internal/model"
)

// SessionService 会话状态机接口
type SessionService interface {
	// Start 启动会话，幂等；返回启动后的状态
	Start(userId string) (string, error)
	// Stop 停止会话，取消在途迁移；无会话时为空操作
	Stop(userId string) error
	// GetStatus 查询会话状态，首次访问时物化 disconnected 记录
	GetStatus(userId string) (*respond.SessionStatusRespond, error)
	// SweepIdleSessions 清扫连接过程中卡死超时的会话，返回清扫条数
	SweepIdleSessions() (int, error)
}

// DeliveryService 消息投递管线接口
type DeliveryService interface {
	// Send 发送出站消息，立即返回 queued 确认
	Send(req request.SendMessageRequest) (*respond.SendMessageRespond, error)
	// Receive 摄入入站消息，到达即已送达
	Receive(req request.ReceiveMessageRequest) (*respond.ReceiveMessageRespond, error)
	// Requeue 把失败消息重新送回管线（重试协调器调用）
	Requeue(message model.Message) (bool, error)
}

// StatusService 消息状态服务接口
type StatusService interface {
	// UpdateStatus 应用外部上报的状态变更（webhook 回调）
	UpdateStatus(messageId, newStatus, errText, reason string) error
	// MarkChatRead 把对话的出站 sent/delivered 消息批量置为已读
	MarkChatRead(chatId string) (*respond.MarkChatReadRespond, error)
	// Stats 聚合投递统计，userId 为空时统计全部
	Stats(userId string) (*respond.StatsRespond, error)
}

// RetryService 重试协调器接口
type RetryService interface {
	// Scan 扫描失败消息并重新入队，返回重试条数
	Scan() (int, error)
	// CleanupExpired 删除超过保留期的失败消息，返回删除条数
	CleanupExpired() (int64, error)
}
