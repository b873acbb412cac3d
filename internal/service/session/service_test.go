package session_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/internal/model"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/internal/service/session"
	"kama_wa_simulator/pkg/enum/session/session_status_enum"
	"kama_wa_simulator/pkg/errorx"
)

// fakeSessionRepo 内存版会话 Repository，串行化语义与数据库一致
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionRepo) FindByUserId(userId string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[userId]
	if !ok {
		return nil, errorx.Newf(errorx.CodeNotFound, "会话不存在 user_id=%s", userId)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) Create(s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	cp.UpdatedAt = time.Now()
	f.sessions[s.UserId] = &cp
	return nil
}

func (f *fakeSessionRepo) UpdateStatusIfCurrent(userId string, from []string, updates map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[userId]
	if !ok {
		return false, nil
	}
	matched := false
	for _, st := range from {
		if s.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	for col, v := range updates {
		switch col {
		case "status":
			s.Status = v.(string)
		case "is_active":
			s.IsActive = v.(bool)
		case "last_error":
			s.LastError = v.(string)
		case "device_label":
			s.DeviceLabel = v.(string)
		case "connected_at":
			s.ConnectedAt = v.(sql.NullTime)
		case "disconnected_at":
			s.DisconnectedAt = v.(sql.NullTime)
		case "error_count":
			s.ErrorCount = v.(int64)
		}
	}
	s.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeSessionRepo) IncrementSentCount(userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userId]; ok {
		s.SentCount++
	}
	return nil
}

func (f *fakeSessionRepo) IncrementReceivedCount(userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userId]; ok {
		s.ReceivedCount++
	}
	return nil
}

func (f *fakeSessionRepo) FindStale(statuses []string, before time.Time) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		for _, st := range statuses {
			if s.Status == st && s.UpdatedAt.Before(before) {
				out = append(out, *s)
				break
			}
		}
	}
	return out, nil
}

// setUpdatedAt 测试辅助：伪造会话的最后更新时间
func (f *fakeSessionRepo) setUpdatedAt(userId string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userId]; ok {
		s.UpdatedAt = t
	}
}

func (f *fakeSessionRepo) status(userId string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userId]; ok {
		return s.Status
	}
	return ""
}

// recordingBroker 记录所有发布的事件
type recordingBroker struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	GroupKey string
	Env      event.Envelope
}

func (b *recordingBroker) Publish(_ context.Context, groupKey string, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{GroupKey: groupKey, Env: env})
	return nil
}

// statusSequence 提取指定组收到的会话状态序列
func (b *recordingBroker) statusSequence(groupKey string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		if e.GroupKey != groupKey || e.Env.Event != event.SessionStatus {
			continue
		}
		data := e.Env.Data.(event.SessionStatusData)
		out = append(out, data.Status)
	}
	return out
}

// statusData 提取指定组中第一个匹配状态的事件负载
func (b *recordingBroker) statusData(groupKey, status string) event.SessionStatusData {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.GroupKey != groupKey || e.Env.Event != event.SessionStatus {
			continue
		}
		data := e.Env.Data.(event.SessionStatusData)
		if data.Status == status {
			return data
		}
	}
	return event.SessionStatusData{}
}

// fakeCache 内存缓存，异步任务同步执行
type fakeCache struct {
	mu   sync.Mutex
	kv   map[string]string
	sets map[string]map[string]struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		kv:   make(map[string]string),
		sets: make(map[string]map[string]struct{}),
	}
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *fakeCache) DeleteByPattern(context.Context, string) error { return nil }

func (c *fakeCache) AddToSet(_ context.Context, key string, members ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = struct{}{}
	}
	return nil
}

func (c *fakeCache) GetSetMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for m := range c.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (c *fakeCache) RemoveFromSet(_ context.Context, key string, members ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range members {
		delete(c.sets[key], m.(string))
	}
	return nil
}

func (c *fakeCache) SubmitTask(action func()) { action() }

func testSimConfig() *config.SimulatorConfig {
	return &config.SimulatorConfig{
		ConnectingToQRCodeMs:    5,
		QRCodeToAuthenticatedMs: 5,
		AuthenticatedToReadyMs:  5,
		QueuedToSentMs:          5,
		SentToDeliveredMs:       5,
		DeliveredToReadMs:       5,
		SlaThresholdMs:          5000,
		MaxRetry:                3,
		SessionIdleTimeoutSec:   60,
	}
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

func TestStartDrivesFullConnectSequence(t *testing.T) {
	repo := newFakeSessionRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, broker, nil, testSimConfig())

	status, err := svc.Start("U1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if status != session_status_enum.Connecting {
		t.Fatalf("expected connecting, got %s", status)
	}

	waitFor(t, 2*time.Second, func() bool {
		return repo.status("U1") == session_status_enum.Ready
	}, "session to reach ready")

	want := []string{
		session_status_enum.Connecting,
		session_status_enum.QRCode,
		session_status_enum.Authenticated,
		session_status_enum.Ready,
	}
	got := broker.statusSequence(event.UserGroup("U1"))
	if len(got) != len(want) {
		t.Fatalf("expected %d status events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// 扫码事件应携带设备标识与 8 位数字配对码
	qr := broker.statusData(event.UserGroup("U1"), session_status_enum.QRCode)
	if qr.DeviceLabel == "" {
		t.Fatalf("expected qrcode event to carry device label")
	}
	if len(qr.PairingCode) != 8 {
		t.Fatalf("expected 8-digit pairing code, got %q", qr.PairingCode)
	}

	// ready 之后设备标识与连接时间都应已持久化
	final, err := repo.FindByUserId("U1")
	if err != nil {
		t.Fatalf("FindByUserId: %v", err)
	}
	if final.DeviceLabel == "" {
		t.Fatalf("expected device label to be set after qrcode step")
	}
	if !final.ConnectedAt.Valid {
		t.Fatalf("expected connected_at to be set after ready step")
	}
	if !final.IsActive {
		t.Fatalf("expected session to be active")
	}
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	repo := newFakeSessionRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, broker, nil, testSimConfig())

	if _, err := svc.Start("U1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	// 连接过程中重复 start 不得产生新的迁移链
	status, err := svc.Start("U1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !session_status_enum.IsActive(status) {
		t.Fatalf("expected active status, got %s", status)
	}

	waitFor(t, 2*time.Second, func() bool {
		return repo.status("U1") == session_status_enum.Ready
	}, "session to reach ready")

	got := broker.statusSequence(event.UserGroup("U1"))
	connecting := 0
	for _, st := range got {
		if st == session_status_enum.Connecting {
			connecting++
		}
	}
	if connecting != 1 {
		t.Fatalf("expected exactly 1 connecting event, got %d (%v)", connecting, got)
	}
}

func TestStopCancelsPendingTransitions(t *testing.T) {
	repo := newFakeSessionRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: repo}
	cfg := testSimConfig()
	cfg.ConnectingToQRCodeMs = 100
	cfg.QRCodeToAuthenticatedMs = 100
	cfg.AuthenticatedToReadyMs = 100
	svc := session.NewSessionService(repos, broker, nil, cfg)

	if _, err := svc.Start("U1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop("U1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := repo.status("U1"); got != session_status_enum.Disconnected {
		t.Fatalf("expected disconnected after stop, got %s", got)
	}

	// 等足原定的迁移窗口，被取消的链不得再推进状态
	time.Sleep(400 * time.Millisecond)
	if got := repo.status("U1"); got != session_status_enum.Disconnected {
		t.Fatalf("cancelled chain advanced session to %s", got)
	}

	got := broker.statusSequence(event.UserGroup("U1"))
	if len(got) == 0 || got[len(got)-1] != session_status_enum.Disconnected {
		t.Fatalf("expected final event disconnected, got %v", got)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	repo := newFakeSessionRepo()
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, nil, nil, testSimConfig())

	if err := svc.Stop("nobody"); err != nil {
		t.Fatalf("Stop on unknown user should be a no-op, got %v", err)
	}
}

func TestGetStatusMaterializesDisconnected(t *testing.T) {
	repo := newFakeSessionRepo()
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, nil, nil, testSimConfig())

	rsp, err := svc.GetStatus("U9")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rsp.Status != session_status_enum.Disconnected {
		t.Fatalf("expected disconnected, got %s", rsp.Status)
	}
	// 首次查询应物化一条持久记录
	if _, err := repo.FindByUserId("U9"); err != nil {
		t.Fatalf("expected session row to exist after GetStatus: %v", err)
	}
}

func TestGetStatusCountsOnlineSubscribers(t *testing.T) {
	repo := newFakeSessionRepo()
	cache := newFakeCache()
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, nil, cache, testSimConfig())

	// 模拟两个 ws 订阅者已在组成员集合中登记
	key := chat.GroupMembersKey(event.UserGroup("U1"))
	_ = cache.AddToSet(context.Background(), key, "sub-a", "sub-b")

	rsp, err := svc.GetStatus("U1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rsp.Subscribers != 2 {
		t.Fatalf("expected 2 online subscribers, got %d", rsp.Subscribers)
	}
}

func TestSweepIdleSessionsForcesTimeout(t *testing.T) {
	repo := newFakeSessionRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: repo}
	svc := session.NewSessionService(repos, broker, nil, testSimConfig())

	if err := repo.Create(&model.Session{
		UserId:   "U-stuck",
		Status:   session_status_enum.QRCode,
		IsActive: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repo.setUpdatedAt("U-stuck", time.Now().Add(-10*time.Minute))

	swept, err := svc.SweepIdleSessions()
	if err != nil {
		t.Fatalf("SweepIdleSessions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}

	final, err := repo.FindByUserId("U-stuck")
	if err != nil {
		t.Fatalf("FindByUserId: %v", err)
	}
	if final.Status != session_status_enum.Disconnected {
		t.Fatalf("expected disconnected, got %s", final.Status)
	}
	if final.LastError != "session timeout" {
		t.Fatalf("expected last_error 'session timeout', got %q", final.LastError)
	}
	if final.ErrorCount != 1 {
		t.Fatalf("expected error_count 1, got %d", final.ErrorCount)
	}
}
