// Package status 实现外部上报的消息状态更新与投递统计
// 状态回调通常来自 webhook：未知消息 ID 视为良性空操作（幂等），
// 绝不把"未找到"作为失败向上游回传
package status

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	myredis "kama_wa_simulator/internal/dao/redis"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/internal/dto/respond"
	"kama_wa_simulator/internal/model"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/pkg/constants"
	"kama_wa_simulator/pkg/enum/message/message_status_enum"
	"kama_wa_simulator/pkg/errorx"
)

// statusService 消息状态业务逻辑实现
type statusService struct {
	repos  *repository.Repositories
	broker chat.Publisher
	cache  myredis.AsyncCacheService
	simCfg *config.SimulatorConfig
}

// NewStatusService 构造函数
func NewStatusService(repos *repository.Repositories, broker chat.Publisher, cache myredis.AsyncCacheService, simCfg *config.SimulatorConfig) *statusService {
	return &statusService{
		repos:  repos,
		broker: broker,
		cache:  cache,
		simCfg: simCfg,
	}
}

// UpdateStatus 应用外部上报的状态变更
// 未知消息 ID 返回 ErrMessageNotFound，调用方按良性空操作处理；
// 条件落库落空（并发写方抢先）同样按幂等空操作处理
func (s *statusService) UpdateStatus(messageId, newStatus, errText, reason string) error {
	if !message_status_enum.IsValid(newStatus) {
		return errorx.Newf(errorx.CodeInvalidParam, "未知消息状态 %s", newStatus)
	}

	message, err := s.repos.Message.FindByUuid(messageId)
	if err != nil {
		if errorx.IsNotFound(err) {
			// webhook 幂等：未知 ID 记日志后按丢弃处理
			zap.L().Info("状态回调指向未知消息，忽略", zap.String("uuid", messageId), zap.String("status", newStatus))
			return errorx.ErrMessageNotFound
		}
		return err
	}

	from := message.Status
	now := time.Now()
	updates := map[string]any{"status": newStatus}
	switch newStatus {
	case message_status_enum.Sent:
		if err := message.MarkSent(now); err != nil {
			return err
		}
		updates["sent_at"] = message.SentAt
	case message_status_enum.Delivered:
		if err := message.MarkDelivered(now); err != nil {
			return err
		}
		updates["delivered_at"] = message.DeliveredAt
	case message_status_enum.Read:
		if err := message.MarkRead(now); err != nil {
			return err
		}
		updates["read_at"] = message.ReadAt
	case message_status_enum.Failed:
		if err := message.MarkFailed(errText); err != nil {
			return err
		}
		updates["last_error"] = errText
	case message_status_enum.Error:
		if err := message.MarkError(errText); err != nil {
			return err
		}
		updates["last_error"] = errText
	default:
		// queued 只能由投递管线自身设置，外部回调不得把消息拉回初始状态
		return errorx.Newf(errorx.CodeInvalidStatus, "状态 %s 不允许外部上报", newStatus)
	}

	applied, err := s.repos.Message.UpdateStatusIfCurrent(messageId, []string{from}, updates)
	if err != nil {
		zap.L().Error("状态回调落库失败", zap.String("uuid", messageId), zap.Error(err))
		return err
	}
	if !applied {
		// 并发写方（自动推进链或重试）先行生效，按幂等处理
		zap.L().Debug("状态回调与并发写竞争落败", zap.String("uuid", messageId))
		return nil
	}

	s.emit(message, errText, reason, now)
	s.invalidateStats(message.UserId)
	return nil
}

// MarkChatRead 把指定对话的全部出站 sent/delivered 消息置为已读
// 返回受影响条数
func (s *statusService) MarkChatRead(chatId string) (*respond.MarkChatReadRespond, error) {
	affected, err := s.repos.Message.MarkChatRead(chatId, time.Now())
	if err != nil {
		zap.L().Error("批量已读失败", zap.String("chat_id", chatId), zap.Error(err))
		return nil, err
	}
	if affected > 0 {
		s.invalidateStats("")
	}
	return &respond.MarkChatReadRespond{Affected: affected}, nil
}

// Stats 聚合投递统计
// userId 为空时统计全部；各比率为占总数的百分比，总数为 0 时一律为 0
func (s *statusService) Stats(userId string) (*respond.StatsRespond, error) {
	cacheKey := statsCacheKey(userId)
	if s.cache != nil {
		if cached, err := s.cache.Get(context.Background(), cacheKey); err == nil && cached != "" {
			var rsp respond.StatsRespond
			if err := json.Unmarshal([]byte(cached), &rsp); err == nil {
				return &rsp, nil
			}
			zap.L().Error("统计缓存解析失败", zap.Error(err))
			// 缓存损坏时继续查库
		}
	}

	counts, err := s.repos.Message.CountByStatus(userId)
	if err != nil {
		zap.L().Error("统计消息状态失败", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	rsp := &respond.StatsRespond{
		Total:        total,
		StatusCounts: counts,
	}
	if total > 0 {
		delivered := counts[message_status_enum.Delivered] + counts[message_status_enum.Read]
		failed := counts[message_status_enum.Failed] + counts[message_status_enum.Error]
		rsp.DeliveryRate = percent(delivered, total)
		rsp.ReadRate = percent(counts[message_status_enum.Read], total)
		rsp.FailureRate = percent(failed, total)
	}

	// 异步回填缓存
	if s.cache != nil {
		snapshot := *rsp
		s.cache.SubmitTask(func() {
			jsonBytes, err := json.Marshal(snapshot)
			if err != nil {
				zap.L().Error("统计序列化失败", zap.Error(err))
				return
			}
			if err := s.cache.Set(context.Background(), cacheKey, string(jsonBytes),
				time.Duration(constants.STATS_CACHE_TIMEOUT)*time.Minute); err != nil {
				zap.L().Error("统计缓存写入失败", zap.Error(err))
			}
		})
	}

	return rsp, nil
}

// emit 通知两类受众：所属用户的组和具体对话的组
func (s *statusService) emit(message *model.Message, errText, reason string, now time.Time) {
	if s.broker == nil {
		return
	}
	latency := int64(0)
	if message.QueuedAt.Valid {
		latency = now.Sub(message.QueuedAt.Time).Milliseconds()
	}
	env := event.NewMessageStatus(now, event.MessageStatusData{
		MessageId:         message.Uuid,
		UserId:            message.UserId,
		ChatId:            message.ChatId,
		Status:            message.Status,
		LatencyMs:         latency,
		LatencyAcceptable: message.IsLatencyAcceptable(s.simCfg.SlaThreshold()),
		Error:             errText,
		Reason:            reason,
		RetryCount:        message.RetryCount,
	})
	ctx := context.Background()
	if err := s.broker.Publish(ctx, event.UserGroup(message.UserId), env); err != nil {
		zap.L().Warn("广播状态事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
	if err := s.broker.Publish(ctx, event.ChatGroup(message.ChatId), env); err != nil {
		zap.L().Warn("广播状态事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
}

// invalidateStats 统计缓存失效，userId 为空时清理全部
func (s *statusService) invalidateStats(userId string) {
	if s.cache == nil {
		return
	}
	s.cache.SubmitTask(func() {
		ctx := context.Background()
		var err error
		if userId == "" {
			err = s.cache.DeleteByPattern(ctx, "message_stats_*")
		} else {
			err = s.cache.Delete(ctx, statsCacheKey(userId))
			if err == nil {
				err = s.cache.Delete(ctx, statsCacheKey(""))
			}
		}
		if err != nil {
			zap.L().Warn("统计缓存失效失败", zap.Error(err))
		}
	})
}

// statsCacheKey 统计缓存键
func statsCacheKey(userId string) string {
	if userId == "" {
		return "message_stats_all"
	}
	return "message_stats_" + userId
}

// percent 百分比
func percent(part, total int64) float64 {
	return float64(part) / float64(total) * 100
}
