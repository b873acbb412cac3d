// Package event 定义对外广播的事件信封
// 统一信封携带事件名、负载和版本号，负载内含 ISO8601 时间戳
// 每种事件一个负载类型（带类型的变体），避免松散的 map 负载
package event

import (
	"encoding/json"
	"time"
)

// 事件版本号，信封结构变更时递增
const Version = "v1"

// 事件名
const (
	SessionStatus   = "session_status"   // 会话状态变更
	MessageStatus   = "message_status"   // 消息状态变更
	MessageReceived = "message_received" // 入站消息到达
)

// Envelope 统一事件信封
type Envelope struct {
	Event   string `json:"event"`   // 事件名
	Data    any    `json:"data"`    // 负载（各变体之一）
	Version string `json:"version"` // 信封版本
}

// Marshal 序列化为 JSON 字节
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// SessionStatusData 会话状态变更负载
type SessionStatusData struct {
	UserId      string `json:"userId"`                // 所属用户 UUID
	Status      string `json:"status"`                // 新状态
	DeviceLabel string `json:"deviceLabel,omitempty"` // 设备标识（qrcode 后携带）
	PairingCode string `json:"pairingCode,omitempty"` // 数字配对码（仅 qrcode 事件携带）
	Reason      string `json:"reason,omitempty"`      // 变更原因
	Timestamp   string `json:"timestamp"`             // ISO8601
}

// MessageStatusData 消息状态变更负载
type MessageStatusData struct {
	MessageId         string `json:"messageId"`         // 消息 ID
	UserId            string `json:"userId"`            // 所属用户 UUID
	ChatId            string `json:"chatId"`            // 对话标识
	Status            string `json:"status"`            // 新状态
	LatencyMs         int64  `json:"latencyMs"`         // 自入队起的耗时（毫秒）
	LatencyAcceptable bool   `json:"latencyAcceptable"` // 是否满足 SLA
	Error             string `json:"error,omitempty"`   // 失败时的错误描述
	Reason            string `json:"reason,omitempty"`  // 变更原因
	RetryCount        int    `json:"retryCount"`        // 已重试次数
	Timestamp         string `json:"timestamp"`         // ISO8601
}

// MessageReceivedData 入站消息到达负载
type MessageReceivedData struct {
	MessageId string `json:"messageId"`          // 消息 ID
	UserId    string `json:"userId"`             // 所属用户 UUID
	ChatId    string `json:"chatId"`             // 对话标识
	From      string `json:"from"`               // 发送方标识
	Type      string `json:"type"`               // 消息类型
	Text      string `json:"text,omitempty"`     // 文本内容
	MediaUrl  string `json:"mediaUrl,omitempty"` // 媒体链接
	Timestamp string `json:"timestamp"`          // ISO8601
}

// stamp 生成 ISO8601 时间戳
func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewSessionStatus 构造会话状态事件
func NewSessionStatus(t time.Time, data SessionStatusData) Envelope {
	data.Timestamp = stamp(t)
	return Envelope{Event: SessionStatus, Data: data, Version: Version}
}

// NewMessageStatus 构造消息状态事件
func NewMessageStatus(t time.Time, data MessageStatusData) Envelope {
	data.Timestamp = stamp(t)
	return Envelope{Event: MessageStatus, Data: data, Version: Version}
}

// NewMessageReceived 构造入站消息事件
func NewMessageReceived(t time.Time, data MessageReceivedData) Envelope {
	data.Timestamp = stamp(t)
	return Envelope{Event: MessageReceived, Data: data, Version: Version}
}

// ==================== 订阅组约定 ====================

// UserGroup 返回按用户分组的组键
// 会话级事件和全局消息事件发往该组
func UserGroup(userId string) string {
	return "user:" + userId
}

// ChatGroup 返回按对话分组的组键
// 与特定对话相关的状态事件发往该组
func ChatGroup(chatId string) string {
	return "chat:" + chatId
}
