// Package repository 定义数据访问层接口和聚合结构
// 采用 Repository 模式将数据访问逻辑与业务逻辑分离
// 持久层是整个系统的事实来源：所有状态变更先落库、后广播
package repository

import (
	"time"

	"gorm.io/gorm"

	"kama_wa_simulator/internal/model"
)

// ==================== Repository 接口定义 ====================

// SessionRepository 会话数据访问接口
type SessionRepository interface {
	// FindByUserId 根据用户 UUID 查找会话
	FindByUserId(userId string) (*model.Session, error)
	// Create 创建会话记录
	Create(session *model.Session) error
	// UpdateStatusIfCurrent 条件状态更新（update-if-unchanged）
	// 仅当当前状态属于 from 集合时才应用 updates（含新状态），
	// 返回是否实际更新，用于防止状态迁移被重复应用
	UpdateStatusIfCurrent(userId string, from []string, updates map[string]any) (bool, error)
	// IncrementSentCount 发送计数 +1（计数只增不减）
	IncrementSentCount(userId string) error
	// IncrementReceivedCount 接收计数 +1
	IncrementReceivedCount(userId string) error
	// FindStale 查找在指定状态集合中停留超时的会话
	FindStale(statuses []string, before time.Time) ([]model.Session, error)
}

// MessageRepository 消息数据访问接口
type MessageRepository interface {
	// FindByUuid 根据消息 ID 查找消息
	FindByUuid(uuid string) (*model.Message, error)
	// Create 创建消息记录
	Create(message *model.Message) error
	// UpdateStatusIfCurrent 条件状态更新（update-if-unchanged）
	// 仅当当前状态属于 from 集合时才应用 updates，返回是否实际更新
	UpdateStatusIfCurrent(uuid string, from []string, updates map[string]any) (bool, error)
	// MarkChatRead 批量把指定对话的出站 sent/delivered 消息置为已读
	// 返回受影响条数
	MarkChatRead(chatId string, readAt time.Time) (int64, error)
	// FindRetryable 查找可重试的失败消息（retry_count < maxRetry）
	FindRetryable(maxRetry int, limit int) ([]model.Message, error)
	// CountByStatus 按状态聚合计数，userId 为空时统计全部
	CountByStatus(userId string) (map[string]int64, error)
	// DeleteExpiredFailed 删除早于指定时间的失败/异常消息，返回删除条数
	DeleteExpiredFailed(before time.Time) (int64, error)
}

// ==================== Repository 聚合 ====================

// Repositories 聚合所有 Repository 实例
// 作为依赖注入的入口，Service 层通过此结构访问数据层
type Repositories struct {
	db      *gorm.DB          // GORM 数据库实例
	Session SessionRepository // 会话 Repository
	Message MessageRepository // 消息 Repository
}

// NewRepositories 创建所有 Repository 实例
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:      db,
		Session: NewSessionRepository(db),
		Message: NewMessageRepository(db),
	}
}

// Transaction 在数据库事务中执行函数
// 事务内的所有操作要么全部成功，要么全部回滚
func (r *Repositories) Transaction(fn func(txRepos *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
