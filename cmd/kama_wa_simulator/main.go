package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kama_wa_simulator/internal/config"
	dao "kama_wa_simulator/internal/dao/mysql"
	myredis "kama_wa_simulator/internal/dao/redis"
	"kama_wa_simulator/internal/handler"
	"kama_wa_simulator/internal/https_server"
	"kama_wa_simulator/internal/infrastructure/logger"
	"kama_wa_simulator/internal/infrastructure/scheduler"
	"kama_wa_simulator/internal/service"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/pkg/util/snowflake"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, "dev"); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	zap.L().Info("日志初始化成功")

	// 3. 初始化数据库
	dao.Init()
	zap.L().Info("数据库初始化成功")

	// 4. 初始化 Redis
	myredis.Init()
	zap.L().Info("Redis 初始化成功")

	// 5. 初始化雪花算法 ID 生成器
	snowflake.Init()
	zap.L().Info("雪花 ID 生成器初始化成功")

	// 6. 初始化事件广播器
	// channel 模式：单实例进程内广播；kafka 模式：跨实例广播
	if conf.KafkaConfig.MessageMode == "kafka" {
		chat.GlobalBroker = chat.NewKafkaBroker()
	} else {
		chat.GlobalBroker = chat.NewChannelBroker()
	}
	go chat.GlobalBroker.Start()
	zap.L().Info("事件广播器初始化成功", zap.String("mode", conf.KafkaConfig.MessageMode))

	// 7. 初始化 Service 层（依赖注入）
	service.InitServices(dao.Repos, chat.GlobalBroker, myredis.GetCacheService(), &conf.SimulatorConfig)
	zap.L().Info("Service 层初始化成功")

	// 8. 初始化验证器翻译
	if err := handler.InitTrans("zh"); err != nil {
		zap.L().Fatal("验证器翻译初始化失败", zap.Error(err))
	}

	// 9. 启动后台调度器
	schedulers := startSchedulers(&conf.SimulatorConfig)
	zap.L().Info("后台调度器启动成功", zap.Int("count", len(schedulers)))

	// 10. 初始化 HTTP 服务器并启动
	engine := https_server.Init(handler.NewHandlers(service.Svc))
	go func() {
		addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
		if err := engine.Run(addr); err != nil {
			zap.L().Fatal("server running fault", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("关闭服务器...")

	for _, s := range schedulers {
		s.Stop()
	}
	chat.GlobalBroker.Close()

	zap.L().Info("服务器已关闭")
}

// startSchedulers 启动后台周期任务
// 重试扫描、空闲会话清扫、过期失败消息清理，周期为 0 的任务不启动
func startSchedulers(simCfg *config.SimulatorConfig) []*scheduler.Scheduler {
	type job struct {
		name     string
		interval time.Duration
		tick     func()
	}
	jobs := []job{
		{
			name:     "retry_scan",
			interval: time.Duration(simCfg.RetryScanIntervalSec) * time.Second,
			tick: func() {
				if _, err := service.Svc.Retry.Scan(); err != nil {
					zap.L().Error("重试扫描失败", zap.Error(err))
				}
			},
		},
		{
			name:     "session_sweep",
			interval: time.Duration(simCfg.SessionSweepIntervalSec) * time.Second,
			tick: func() {
				if _, err := service.Svc.Session.SweepIdleSessions(); err != nil {
					zap.L().Error("会话清扫失败", zap.Error(err))
				}
			},
		},
		{
			name:     "failed_cleanup",
			interval: time.Duration(simCfg.CleanupIntervalSec) * time.Second,
			tick: func() {
				if _, err := service.Svc.Retry.CleanupExpired(); err != nil {
					zap.L().Error("过期失败消息清理失败", zap.Error(err))
				}
			},
		},
	}

	var started []*scheduler.Scheduler
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		tick := j.tick
		s, err := scheduler.New(j.name, j.interval, func(context.Context) { tick() })
		if err != nil {
			zap.L().Fatal("创建调度器失败", zap.String("name", j.name), zap.Error(err))
		}
		s.Start()
		started = append(started, s)
	}
	return started
}
