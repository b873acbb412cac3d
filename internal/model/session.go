// Package model 定义数据库实体模型
// 本文件定义会话模型，对应一个用户到模拟消息网络的连接生命周期
package model

import (
	"database/sql"

	"gorm.io/gorm"
)

// Session 会话模型
// 对应数据库 session 表
// 每个用户最多持有一条会话记录，记录由状态机和投递管线修改，
// 永不硬删除，stop 只会置为非激活
type Session struct {
	gorm.Model // 内嵌 GORM 模型，包含 ID、CreatedAt、UpdatedAt、DeletedAt

	// UserId 会话所属用户 UUID
	// 会话的唯一标识，一个用户至多一条记录
	UserId string `gorm:"column:user_id;uniqueIndex;type:char(20);not null;comment:所属用户id"`

	// Status 会话状态
	// disconnected / connecting / qrcode / authenticated / ready / error
	// 状态只能沿状态机定义的边迁移，stop 边从任意状态回到 disconnected
	Status string `gorm:"column:status;type:varchar(20);default:disconnected;not null;comment:会话状态"`

	// DeviceLabel 模拟设备标识
	// 在 qrcode 阶段生成，模拟扫码后绑定的设备
	DeviceLabel string `gorm:"column:device_label;type:varchar(64);comment:设备标识"`

	// ConnectedAt 连接就绪时间
	ConnectedAt sql.NullTime `gorm:"column:connected_at;comment:连接时间"`

	// DisconnectedAt 断开时间
	DisconnectedAt sql.NullTime `gorm:"column:disconnected_at;comment:断开时间"`

	// SentCount 已发送消息计数，只增不减
	SentCount int64 `gorm:"column:sent_count;default:0;not null;comment:发送消息数"`

	// ReceivedCount 已接收消息计数，只增不减
	ReceivedCount int64 `gorm:"column:received_count;default:0;not null;comment:接收消息数"`

	// LastError 最近一次错误描述
	LastError string `gorm:"column:last_error;type:varchar(255);comment:最近错误"`

	// ErrorCount 累计错误次数，只增不减
	ErrorCount int64 `gorm:"column:error_count;default:0;not null;comment:错误次数"`

	// IsActive 激活标志
	// start 置为 true，stop 置为 false，代替删除
	IsActive bool `gorm:"column:is_active;default:false;not null;comment:是否激活"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "session"
}
