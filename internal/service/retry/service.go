// Package retry 实现失败消息的重试协调与过期清理
// 协调器只暴露普通可调用方法，周期触发由外部调度器负责
// 状态机：failed/error --(重试, 次数<上限)--> queued（重新进入管线）
//
//	failed/error --(次数>=上限)--> 终止，不再自动处理
package retry

import (
	"time"

	"go.uber.org/zap"

	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	"kama_wa_simulator/internal/model"
)

// Requeuer 重新入队接口，由投递管线实现
type Requeuer interface {
	// Requeue 把失败消息重新送回管线，返回是否实际入队
	Requeue(message model.Message) (bool, error)
}

// retryService 重试协调器实现
type retryService struct {
	repos    *repository.Repositories
	pipeline Requeuer
	simCfg   *config.SimulatorConfig
}

// NewRetryService 构造函数
func NewRetryService(repos *repository.Repositories, pipeline Requeuer, simCfg *config.SimulatorConfig) *retryService {
	return &retryService{
		repos:    repos,
		pipeline: pipeline,
		simCfg:   simCfg,
	}
}

// scanBatchLimit 单轮扫描的消息上限，防止失败堆积时单轮耗时失控
const scanBatchLimit = 500

// Scan 扫描可重试的失败消息并重新入队
// 重试次数已达上限的消息是终止态，永远不会被再次选中；
// 返回本轮实际重新入队的条数
func (r *retryService) Scan() (int, error) {
	maxRetry := r.simCfg.MaxRetry
	if maxRetry <= 0 {
		return 0, nil
	}

	candidates, err := r.repos.Message.FindRetryable(maxRetry, scanBatchLimit)
	if err != nil {
		zap.L().Error("扫描可重试消息失败", zap.Error(err))
		return 0, err
	}

	retried := 0
	for _, message := range candidates {
		applied, err := r.pipeline.Requeue(message)
		if err != nil {
			zap.L().Error("消息重新入队失败", zap.String("uuid", message.Uuid), zap.Error(err))
			continue
		}
		if applied {
			retried++
		}
	}
	if retried > 0 {
		zap.L().Info("重试扫描完成", zap.Int("retried", retried), zap.Int("candidates", len(candidates)))
	}
	return retried, nil
}

// CleanupExpired 删除超过保留期的失败/异常消息
// 由外部调度器周期调用，返回删除条数
func (r *retryService) CleanupExpired() (int64, error) {
	days := r.simCfg.FailedRetentionDays
	if days <= 0 {
		return 0, nil
	}
	before := time.Now().AddDate(0, 0, -days)
	deleted, err := r.repos.Message.DeleteExpiredFailed(before)
	if err != nil {
		zap.L().Error("清理过期失败消息失败", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		zap.L().Info("过期失败消息清理完成", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
