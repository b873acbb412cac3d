// Package scheduler 提供周期性任务调度器
// 用于驱动重试扫描、空闲会话清理、过期失败消息删除等后台任务
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler 固定间隔调度器
// Start 后立即执行一次 tickFn，之后按 interval 周期执行
// tick 内的 panic 会被捕获并记录，不会导致调度器退出
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建调度器，interval 必须大于 0，tickFn 不能为空
func New(name string, interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

// Start 启动调度循环，已在运行时返回 false
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		zap.L().Info("scheduler started",
			zap.String("name", s.name),
			zap.Duration("interval", s.interval))

		// 启动时先执行一次，避免等待首个周期
		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				zap.L().Info("scheduler stopping", zap.String("name", s.name))
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop 停止调度循环并等待当前 tick 结束，未在运行时返回 false
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	zap.L().Info("scheduler stopped", zap.String("name", s.name))
	return true
}

// IsRunning 返回调度器是否在运行
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("scheduler tick panic recovered",
				zap.String("name", s.name),
				zap.Any("panic", r))
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	zap.L().Debug("scheduler tick completed",
		zap.String("name", s.name),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}
