package repository

import (
	"time"

	"gorm.io/gorm"

	"kama_wa_simulator/internal/model"
	"kama_wa_simulator/pkg/enum/message/message_status_enum"
)

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息 Repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// FindByUuid 根据消息 ID 查找消息
func (r *messageRepository) FindByUuid(uuid string) (*model.Message, error) {
	var message model.Message
	if err := r.db.Where("uuid = ?", uuid).First(&message).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询消息 uuid=%s", uuid)
	}
	return &message, nil
}

// Create 创建消息记录
func (r *messageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return wrapDBError(err, "创建消息")
	}
	return nil
}

// UpdateStatusIfCurrent 条件状态更新
// WHERE status IN (from) 实现 update-if-unchanged 语义，
// 一次迁移最多被应用一次，迟到的竞争写会落空
func (r *messageRepository) UpdateStatusIfCurrent(uuid string, from []string, updates map[string]any) (bool, error) {
	res := r.db.Model(&model.Message{}).
		Where("uuid = ? AND status IN ?", uuid, from).
		Updates(updates)
	if res.Error != nil {
		return false, wrapDBErrorf(res.Error, "条件更新消息 uuid=%s", uuid)
	}
	return res.RowsAffected > 0, nil
}

// MarkChatRead 批量把指定对话的出站 sent/delivered 消息置为已读
func (r *messageRepository) MarkChatRead(chatId string, readAt time.Time) (int64, error) {
	res := r.db.Model(&model.Message{}).
		Where("chat_id = ? AND direction = ? AND status IN ?",
			chatId, model.DirectionOutbound,
			[]string{message_status_enum.Sent, message_status_enum.Delivered}).
		Updates(map[string]any{
			"status":  message_status_enum.Read,
			"read_at": readAt,
		})
	if res.Error != nil {
		return 0, wrapDBErrorf(res.Error, "批量已读 chat_id=%s", chatId)
	}
	return res.RowsAffected, nil
}

// FindRetryable 查找可重试的失败消息
func (r *messageRepository) FindRetryable(maxRetry int, limit int) ([]model.Message, error) {
	var messages []model.Message
	q := r.db.Where("status IN ? AND retry_count < ?",
		[]string{message_status_enum.Failed, message_status_enum.Error}, maxRetry).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, wrapDBError(err, "查询可重试消息")
	}
	return messages, nil
}

// CountByStatus 按状态聚合计数，userId 为空时统计全部
func (r *messageRepository) CountByStatus(userId string) (map[string]int64, error) {
	type row struct {
		Status string
		Cnt    int64
	}
	var rows []row
	q := r.db.Model(&model.Message{}).Select("status, COUNT(*) AS cnt").Group("status")
	if userId != "" {
		q = q.Where("user_id = ?", userId)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, wrapDBError(err, "统计消息状态")
	}
	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Cnt
	}
	return counts, nil
}

// DeleteExpiredFailed 删除早于指定时间的失败/异常消息
func (r *messageRepository) DeleteExpiredFailed(before time.Time) (int64, error) {
	res := r.db.Where("status IN ? AND updated_at < ?",
		[]string{message_status_enum.Failed, message_status_enum.Error}, before).
		Delete(&model.Message{})
	if res.Error != nil {
		return 0, wrapDBError(res.Error, "清理过期失败消息")
	}
	return res.RowsAffected, nil
}
