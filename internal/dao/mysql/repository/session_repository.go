package repository

import (
	"time"

	"gorm.io/gorm"

	"kama_wa_simulator/internal/model"
)

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话 Repository
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// FindByUserId 根据用户 UUID 查找会话
func (r *sessionRepository) FindByUserId(userId string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("user_id = ?", userId).First(&session).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询会话 user_id=%s", userId)
	}
	return &session, nil
}

// Create 创建会话记录
func (r *sessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return wrapDBError(err, "创建会话")
	}
	return nil
}

// UpdateStatusIfCurrent 条件状态更新
// WHERE status IN (from) 保证同一迁移不会被并发重复应用，
// RowsAffected == 0 表示竞争方已先行变更
func (r *sessionRepository) UpdateStatusIfCurrent(userId string, from []string, updates map[string]any) (bool, error) {
	res := r.db.Model(&model.Session{}).
		Where("user_id = ? AND status IN ?", userId, from).
		Updates(updates)
	if res.Error != nil {
		return false, wrapDBErrorf(res.Error, "条件更新会话 user_id=%s", userId)
	}
	return res.RowsAffected > 0, nil
}

// IncrementSentCount 发送计数 +1
func (r *sessionRepository) IncrementSentCount(userId string) error {
	res := r.db.Model(&model.Session{}).
		Where("user_id = ?", userId).
		UpdateColumn("sent_count", gorm.Expr("sent_count + 1"))
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "递增发送计数 user_id=%s", userId)
	}
	return nil
}

// IncrementReceivedCount 接收计数 +1
func (r *sessionRepository) IncrementReceivedCount(userId string) error {
	res := r.db.Model(&model.Session{}).
		Where("user_id = ?", userId).
		UpdateColumn("received_count", gorm.Expr("received_count + 1"))
	if res.Error != nil {
		return wrapDBErrorf(res.Error, "递增接收计数 user_id=%s", userId)
	}
	return nil
}

// FindStale 查找在指定状态集合中停留超时的会话
func (r *sessionRepository) FindStale(statuses []string, before time.Time) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.Where("status IN ? AND updated_at < ?", statuses, before).
		Find(&sessions).Error; err != nil {
		return nil, wrapDBError(err, "查询超时会话")
	}
	return sessions, nil
}
