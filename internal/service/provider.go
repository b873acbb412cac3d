// Package service 提供业务逻辑层
// 本文件实现 Service 层的依赖注入和聚合
package service

import (
	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	myredis "kama_wa_simulator/internal/dao/redis"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/internal/service/delivery"
	"kama_wa_simulator/internal/service/retry"
	"kama_wa_simulator/internal/service/session"
	"kama_wa_simulator/internal/service/status"
)

// Services 聚合所有 Service 实例
// 作为依赖注入的入口，Handler 层通过 service.Svc 访问各个 Service
type Services struct {
	Session  SessionService  // 会话状态机
	Delivery DeliveryService // 投递管线
	Status   StatusService   // 状态服务
	Retry    RetryService    // 重试协调器
}

// NewServices 创建并注入所有 Service 实例
// 依赖注入流程：
//  1. 接收 Repository 聚合、事件广播器和缓存服务
//  2. 创建各个 Service 实例并连线（重试协调器依赖投递管线的入队能力）
//  3. 返回 Services 聚合
func NewServices(repos *repository.Repositories, broker chat.Broker, cache myredis.AsyncCacheService, simCfg *config.SimulatorConfig) *Services {
	sessionSvc := session.NewSessionService(repos, broker, cache, simCfg)
	deliverySvc := delivery.NewDeliveryService(repos, broker, simCfg)
	statusSvc := status.NewStatusService(repos, broker, cache, simCfg)
	retrySvc := retry.NewRetryService(repos, deliverySvc, simCfg)

	return &Services{
		Session:  sessionSvc,
		Delivery: deliverySvc,
		Status:   statusSvc,
		Retry:    retrySvc,
	}
}

// Svc 全局 Services 实例
// Handler 层通过 service.Svc.Delivery.Send() 等方式调用
var Svc *Services

// InitServices 初始化全局 Services 实例
// 应在 main.go 中调用，在 Repository 和广播器初始化之后
func InitServices(repos *repository.Repositories, broker chat.Broker, cache myredis.AsyncCacheService, simCfg *config.SimulatorConfig) {
	Svc = NewServices(repos, broker, cache, simCfg)
}
