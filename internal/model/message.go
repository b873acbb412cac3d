// Package model 定义数据库实体模型
// 本文件定义消息模型及其状态迁移操作
// 消息状态只允许通过本文件的具名迁移方法修改，
// 以保证时间戳单调不减、状态只进不退的不变量
package model

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"kama_wa_simulator/pkg/enum/message/message_status_enum"
	"kama_wa_simulator/pkg/errorx"
)

// 消息方向
const (
	DirectionOutbound = "outbound" // 出站（用户发送）
	DirectionInbound  = "inbound"  // 入站（外部接收）
)

// Message 消息模型
// 对应数据库 message 表
// 每条消息拥有独立的投递生命周期，归属于一条会话（级联所有权），
// 仅通过投递管线的计数调用反向修改会话字段
type Message struct {
	gorm.Model

	// Uuid 消息唯一标识
	// 网关分配的雪花 ID，或调用方自带的 ID（重试幂等用，原样保留）
	Uuid string `gorm:"column:uuid;uniqueIndex;type:varchar(64);not null;comment:消息id"`

	// UserId 所属会话的用户 UUID（会话反向引用，仅用于查找）
	UserId string `gorm:"column:user_id;index;type:char(20);not null;comment:所属用户id"`

	// Direction 消息方向：outbound / inbound
	Direction string `gorm:"column:direction;type:varchar(10);not null;comment:消息方向"`

	// Type 消息类型，如 text / media
	Type string `gorm:"column:type;type:varchar(20);not null;comment:消息类型"`

	// ChatId 对话标识（对端号码或群组标识）
	ChatId string `gorm:"column:chat_id;index;type:varchar(64);not null;comment:对话id"`

	// ContactId 对端联系人标识（出站为接收方，入站为发送方）
	ContactId string `gorm:"column:contact_id;type:varchar(64);not null;comment:联系人id"`

	// Content 消息文本内容
	Content string `gorm:"column:content;type:TEXT;comment:消息内容"`

	// MediaUrl 媒体资源链接（媒体消息）
	MediaUrl string `gorm:"column:media_url;type:varchar(255);comment:媒体url"`

	// Status 消息状态
	// queued / sent / delivered / read / failed / error
	Status string `gorm:"column:status;index;type:varchar(20);not null;comment:消息状态"`

	// 各跳时间戳，一经写入单调不减
	QueuedAt    sql.NullTime `gorm:"column:queued_at;comment:入队时间"`
	SentAt      sql.NullTime `gorm:"column:sent_at;comment:发送时间"`
	DeliveredAt sql.NullTime `gorm:"column:delivered_at;comment:送达时间"`
	ReadAt      sql.NullTime `gorm:"column:read_at;comment:已读时间"`

	// LastError 最近一次错误描述
	LastError string `gorm:"column:last_error;type:varchar(255);comment:最近错误"`

	// RetryCount 已自动重试次数
	RetryCount int `gorm:"column:retry_count;default:0;not null;comment:重试次数"`

	// FromAgent 是否由客服坐席发出
	FromAgent bool `gorm:"column:from_agent;default:false;not null;comment:是否坐席发送"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "message"
}

// ==================== 具名状态迁移操作 ====================

// hopAt 保证时间戳单调不减：新时间戳不得早于上一跳
func (m *Message) hopAt(t time.Time) time.Time {
	for _, prev := range []sql.NullTime{m.ReadAt, m.DeliveredAt, m.SentAt, m.QueuedAt} {
		if prev.Valid {
			if t.Before(prev.Time) {
				return prev.Time
			}
			return t
		}
	}
	return t
}

// advance 校验并执行状态推进
func (m *Message) advance(to string) error {
	if !message_status_enum.CanAdvance(m.Status, to) {
		return errorx.Newf(errorx.CodeInvalidStatus, "非法状态迁移 %s → %s", m.Status, to)
	}
	m.Status = to
	return nil
}

// MarkQueued 入队（初始跳）
func (m *Message) MarkQueued(t time.Time) {
	m.Status = message_status_enum.Queued
	m.QueuedAt = sql.NullTime{Time: t, Valid: true}
}

// MarkSent 推进到已发送
func (m *Message) MarkSent(t time.Time) error {
	if err := m.advance(message_status_enum.Sent); err != nil {
		return err
	}
	m.SentAt = sql.NullTime{Time: m.hopAt(t), Valid: true}
	return nil
}

// MarkDelivered 推进到已送达
// 允许从 queued 直接进入（入站消息到达即已送达）
func (m *Message) MarkDelivered(t time.Time) error {
	if err := m.advance(message_status_enum.Delivered); err != nil {
		return err
	}
	m.DeliveredAt = sql.NullTime{Time: m.hopAt(t), Valid: true}
	return nil
}

// MarkRead 推进到已读
func (m *Message) MarkRead(t time.Time) error {
	if err := m.advance(message_status_enum.Read); err != nil {
		return err
	}
	m.ReadAt = sql.NullTime{Time: m.hopAt(t), Valid: true}
	return nil
}

// MarkFailed 横向进入失败态
func (m *Message) MarkFailed(errText string) error {
	if err := m.advance(message_status_enum.Failed); err != nil {
		return err
	}
	m.LastError = errText
	return nil
}

// MarkError 横向进入异常态
func (m *Message) MarkError(errText string) error {
	if err := m.advance(message_status_enum.Error); err != nil {
		return err
	}
	m.LastError = errText
	return nil
}

// ==================== 延迟 / SLA ====================

// SentLatency 返回 queued → sent 的耗时，未发送时返回 0
func (m *Message) SentLatency() time.Duration {
	if !m.QueuedAt.Valid || !m.SentAt.Valid {
		return 0
	}
	return m.SentAt.Time.Sub(m.QueuedAt.Time)
}

// TotalLatency 返回从入队到最后一跳的总耗时
func (m *Message) TotalLatency() time.Duration {
	if !m.QueuedAt.Valid {
		return 0
	}
	last := m.QueuedAt.Time
	for _, t := range []sql.NullTime{m.SentAt, m.DeliveredAt, m.ReadAt} {
		if t.Valid && t.Time.After(last) {
			last = t.Time
		}
	}
	return last.Sub(m.QueuedAt.Time)
}

// IsLatencyAcceptable 判断延迟是否满足 SLA
// 出站消息看 queued → sent 的耗时，入站消息看总往返耗时
// threshold 来自配置，调用点不得写死阈值
func (m *Message) IsLatencyAcceptable(threshold time.Duration) bool {
	if m.Direction == DirectionInbound {
		return m.TotalLatency() < threshold
	}
	if !m.SentAt.Valid {
		// 尚未发送，以当前耗时判定
		if !m.QueuedAt.Valid {
			return true
		}
		return time.Since(m.QueuedAt.Time) < threshold
	}
	return m.SentLatency() < threshold
}
