// Package session 实现会话注册表与会话状态机
// 状态机驱动固定迁移序列 connecting → qrcode → authenticated → ready，
// stop 从任意状态回到 disconnected
// 并发约束：同一用户的所有变更经由该用户的条目锁串行化，
// 已停止会话的迟到回调永远无法污染新启动的会话
package session

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
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
	"kama_wa_simulator/pkg/enum/session/session_status_enum"
	"kama_wa_simulator/pkg/errorx"
	"kama_wa_simulator/pkg/util/random"
)

// allStatuses stop 边可从任意状态出发
var allStatuses = []string{
	session_status_enum.Disconnected,
	session_status_enum.Connecting,
	session_status_enum.QRCode,
	session_status_enum.Authenticated,
	session_status_enum.Ready,
	session_status_enum.Error,
}

// sessionEntry 注册表中一个用户的条目
// mu 串行化该用户的全部状态变更；cancel 取消在途的定时迁移
type sessionEntry struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// sessionService 会话状态机实现
type sessionService struct {
	repos  *repository.Repositories
	broker chat.Publisher
	cache  myredis.AsyncCacheService
	simCfg *config.SimulatorConfig

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSessionService 构造函数，注入所有依赖
// broker/cache 可为 nil（广播与缓存都是尽力而为）
func NewSessionService(repos *repository.Repositories, broker chat.Publisher, cache myredis.AsyncCacheService, simCfg *config.SimulatorConfig) *sessionService {
	return &sessionService{
		repos:   repos,
		broker:  broker,
		cache:   cache,
		simCfg:  simCfg,
		entries: make(map[string]*sessionEntry),
	}
}

// entry 获取（或创建）用户条目
func (s *sessionService) entry(userId string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userId]
	if !ok {
		e = &sessionEntry{}
		s.entries[userId] = e
	}
	return e
}

// Start 启动会话，幂等
// 会话已处于连接过程中或已就绪时，原样返回当前状态；
// 否则置为 connecting 并调度三段延迟迁移（qrcode、authenticated、ready）
func (s *sessionService) Start(userId string) (string, error) {
	e := s.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := s.loadOrCreate(userId)
	if err != nil {
		return "", err
	}

	// 幂等：非终止状态下重复 start 不产生新的定时链
	if session_status_enum.IsActive(session.Status) {
		return session.Status, nil
	}

	now := time.Now()
	applied, err := s.repos.Session.UpdateStatusIfCurrent(userId,
		[]string{session_status_enum.Disconnected, session_status_enum.Error},
		map[string]any{
			"status":     session_status_enum.Connecting,
			"is_active":  true,
			"last_error": "",
		})
	if err != nil {
		zap.L().Error("启动会话失败", zap.String("user_id", userId), zap.Error(err))
		return "", err
	}
	if !applied {
		// 竞争方已先行启动，返回当前状态
		current, err := s.repos.Session.FindByUserId(userId)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	s.emitStatus(userId, session_status_enum.Connecting, "", "", "start", now)

	// 调度定时迁移链，Stop 通过 cancel 取消
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go s.runTransitions(ctx, e, userId)

	return session_status_enum.Connecting, nil
}

// runTransitions 执行三段延迟迁移
// 每一步：等待 → 持条目锁校验未被取消 → 条件落库 → 广播
// 先落库后广播，读到事件的订阅者必然能读到对应的持久记录；
// 条件更新落空说明 stop 竞争获胜，整条链终止
func (s *sessionService) runTransitions(ctx context.Context, e *sessionEntry, userId string) {
	delays := s.simCfg.SessionDelays()

	type step struct {
		from    string
		to      string
		updates func(now time.Time) map[string]any
	}
	deviceLabel := "wa-device-" + random.GetNowAndLenRandomString(10)
	// 扫码事件同时携带数字配对码，供不便扫码的客户端手工输入
	pairingCode := strconv.Itoa(random.GetRandomInt(8))
	steps := []step{
		{
			from: session_status_enum.Connecting,
			to:   session_status_enum.QRCode,
			updates: func(now time.Time) map[string]any {
				// 扫码阶段生成模拟设备标识
				return map[string]any{
					"status":       session_status_enum.QRCode,
					"device_label": deviceLabel,
				}
			},
		},
		{
			from: session_status_enum.QRCode,
			to:   session_status_enum.Authenticated,
			updates: func(now time.Time) map[string]any {
				return map[string]any{"status": session_status_enum.Authenticated}
			},
		},
		{
			from: session_status_enum.Authenticated,
			to:   session_status_enum.Ready,
			updates: func(now time.Time) map[string]any {
				return map[string]any{
					"status":       session_status_enum.Ready,
					"connected_at": sql.NullTime{Time: now, Valid: true},
				}
			},
		},
	}

	for i, st := range steps {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delays[i]):
		}

		e.mu.Lock()
		if ctx.Err() != nil {
			// stop 已抢先完成，链终止
			e.mu.Unlock()
			return
		}
		now := time.Now()
		applied, err := s.repos.Session.UpdateStatusIfCurrent(userId, []string{st.from}, st.updates(now))
		if err != nil {
			zap.L().Error("会话迁移落库失败",
				zap.String("user_id", userId),
				zap.String("to", st.to),
				zap.Error(err),
			)
			e.mu.Unlock()
			return
		}
		if !applied {
			e.mu.Unlock()
			return
		}
		label, code := "", ""
		if st.to == session_status_enum.QRCode {
			label, code = deviceLabel, pairingCode
		}
		s.emitStatus(userId, st.to, label, code, "", now)
		e.mu.Unlock()
	}
}

// Stop 停止会话：取消在途迁移并回到 disconnected
// 没有会话记录时为空操作
func (s *sessionService) Stop(userId string) error {
	e := s.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := s.repos.Session.FindByUserId(userId)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil // 无会话，no-op
		}
		return err
	}

	// 先取消在途回调；取消异常只记日志，权威状态即将落库为 disconnected
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	now := time.Now()
	if _, err := s.repos.Session.UpdateStatusIfCurrent(userId, allStatuses, map[string]any{
		"status":          session_status_enum.Disconnected,
		"is_active":       false,
		"disconnected_at": sql.NullTime{Time: now, Valid: true},
	}); err != nil {
		zap.L().Error("停止会话落库失败", zap.String("user_id", userId), zap.Error(err))
		return err
	}

	s.emitStatus(userId, session_status_enum.Disconnected, "", "", "stop", now)
	return nil
}

// GetStatus 查询会话状态
// 首次访问时落一条 disconnected 记录（读操作物化状态，但不改变语义）
func (s *sessionService) GetStatus(userId string) (*respond.SessionStatusRespond, error) {
	session, err := s.loadOrCreate(userId)
	if err != nil {
		return nil, err
	}
	rsp := &respond.SessionStatusRespond{
		UserId:        session.UserId,
		Status:        session.Status,
		DeviceLabel:   session.DeviceLabel,
		SentCount:     session.SentCount,
		ReceivedCount: session.ReceivedCount,
		IsActive:      session.IsActive,
	}
	// 在线订阅者数来自订阅登记集合，读取失败按 0 处理
	if s.cache != nil {
		members, err := s.cache.GetSetMembers(context.Background(), chat.GroupMembersKey(event.UserGroup(userId)))
		if err != nil {
			zap.L().Warn("读取组成员失败", zap.String("user_id", userId), zap.Error(err))
		} else {
			rsp.Subscribers = len(members)
		}
	}
	return rsp, nil
}

// SweepIdleSessions 清扫卡死的会话
// 在连接过程状态（connecting/qrcode/authenticated）停留超时的会话被强制停止，
// 由外部调度器周期调用，核心不自带调度
func (s *sessionService) SweepIdleSessions() (int, error) {
	timeout := s.simCfg.SessionIdleTimeout()
	if timeout <= 0 {
		return 0, nil
	}
	stale, err := s.repos.Session.FindStale(
		[]string{session_status_enum.Connecting, session_status_enum.QRCode, session_status_enum.Authenticated},
		time.Now().Add(-timeout),
	)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, sess := range stale {
		e := s.entry(sess.UserId)
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		now := time.Now()
		applied, err := s.repos.Session.UpdateStatusIfCurrent(sess.UserId, allStatuses, map[string]any{
			"status":          session_status_enum.Disconnected,
			"is_active":       false,
			"disconnected_at": sql.NullTime{Time: now, Valid: true},
			"last_error":      "session timeout",
			"error_count":     sess.ErrorCount + 1,
		})
		if err != nil {
			zap.L().Error("清扫会话失败", zap.String("user_id", sess.UserId), zap.Error(err))
			e.mu.Unlock()
			continue
		}
		if applied {
			s.emitStatus(sess.UserId, session_status_enum.Disconnected, "", "", "timeout", now)
			swept++
		}
		e.mu.Unlock()
	}
	return swept, nil
}

// loadOrCreate 读取会话，不存在时创建 disconnected 记录
func (s *sessionService) loadOrCreate(userId string) (*model.Session, error) {
	session, err := s.repos.Session.FindByUserId(userId)
	if err == nil {
		return session, nil
	}
	if !errorx.IsNotFound(err) {
		zap.L().Error("查询会话失败", zap.String("user_id", userId), zap.Error(err))
		return nil, err
	}
	session = &model.Session{
		UserId: userId,
		Status: session_status_enum.Disconnected,
	}
	if err := s.repos.Session.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

// emitStatus 持久化之后广播状态事件并刷新状态缓存
// 广播失败不影响主流程
func (s *sessionService) emitStatus(userId, status, deviceLabel, pairingCode, reason string, now time.Time) {
	if s.broker != nil {
		env := event.NewSessionStatus(now, event.SessionStatusData{
			UserId:      userId,
			Status:      status,
			DeviceLabel: deviceLabel,
			PairingCode: pairingCode,
			Reason:      reason,
		})
		if err := s.broker.Publish(context.Background(), event.UserGroup(userId), env); err != nil {
			zap.L().Warn("广播会话事件失败", zap.String("user_id", userId), zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.SubmitTask(func() {
			if err := s.cache.Set(context.Background(), "session_status_"+userId, status,
				time.Duration(constants.STATUS_CACHE_TIMEOUT)*time.Minute); err != nil {
				zap.L().Warn("刷新会话状态缓存失败", zap.Error(err))
			}
		})
	}
}
