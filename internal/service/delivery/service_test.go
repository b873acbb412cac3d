package delivery_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/internal/dto/request"
	"kama_wa_simulator/internal/model"
	"kama_wa_simulator/internal/service/delivery"
	"kama_wa_simulator/pkg/enum/message/message_status_enum"
	"kama_wa_simulator/pkg/enum/session/session_status_enum"
	"kama_wa_simulator/pkg/errorx"
)

// ==================== 内存版 Repository ====================

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
	f.sessions[s.UserId] = &cp
	return nil
}

func (f *fakeSessionRepo) UpdateStatusIfCurrent(string, []string, map[string]any) (bool, error) {
	return false, nil
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

func (f *fakeSessionRepo) FindStale([]string, time.Time) ([]model.Session, error) {
	return nil, nil
}

func (f *fakeSessionRepo) sentCount(userId string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userId]; ok {
		return s.SentCount
	}
	return 0
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*model.Message)}
}

func (f *fakeMessageRepo) FindByUuid(uuid string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[uuid]
	if !ok {
		return nil, errorx.Newf(errorx.CodeNotFound, "消息不存在 uuid=%s", uuid)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessageRepo) Create(m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.messages[m.Uuid] = &cp
	return nil
}

func (f *fakeMessageRepo) UpdateStatusIfCurrent(uuid string, from []string, updates map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[uuid]
	if !ok {
		return false, nil
	}
	matched := false
	for _, st := range from {
		if m.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	applyMessageUpdates(m, updates)
	return true, nil
}

func applyMessageUpdates(m *model.Message, updates map[string]any) {
	for col, v := range updates {
		switch col {
		case "status":
			m.Status = v.(string)
		case "queued_at":
			switch t := v.(type) {
			case time.Time:
				m.QueuedAt = sql.NullTime{Time: t, Valid: true}
			case sql.NullTime:
				m.QueuedAt = t
			}
		case "sent_at":
			m.SentAt = v.(sql.NullTime)
		case "delivered_at":
			m.DeliveredAt = v.(sql.NullTime)
		case "read_at":
			m.ReadAt = v.(sql.NullTime)
		case "retry_count":
			m.RetryCount = v.(int)
		case "last_error":
			m.LastError = v.(string)
		}
	}
}

func (f *fakeMessageRepo) MarkChatRead(string, time.Time) (int64, error) { return 0, nil }

func (f *fakeMessageRepo) FindRetryable(int, int) ([]model.Message, error) { return nil, nil }

func (f *fakeMessageRepo) CountByStatus(string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (f *fakeMessageRepo) DeleteExpiredFailed(time.Time) (int64, error) { return 0, nil }

func (f *fakeMessageRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeMessageRepo) status(uuid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[uuid]; ok {
		return m.Status
	}
	return ""
}

func (f *fakeMessageRepo) get(uuid string) *model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[uuid]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// forceStatus 测试辅助：模拟外部回调直接改写状态
func (f *fakeMessageRepo) forceStatus(uuid, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[uuid]; ok {
		m.Status = status
	}
}

// ==================== 事件记录 ====================

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

// messageStatusSequence 提取指定组中某条消息的状态序列
func (b *recordingBroker) messageStatusSequence(groupKey, messageId string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		if e.GroupKey != groupKey || e.Env.Event != event.MessageStatus {
			continue
		}
		data := e.Env.Data.(event.MessageStatusData)
		if data.MessageId == messageId {
			out = append(out, data.Status)
		}
	}
	return out
}

func (b *recordingBroker) receivedCount(groupKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.GroupKey == groupKey && e.Env.Event == event.MessageReceived {
			n++
		}
	}
	return n
}

// ==================== 测试装配 ====================

func testSimConfig() *config.SimulatorConfig {
	return &config.SimulatorConfig{
		QueuedToSentMs:    5,
		SentToDeliveredMs: 5,
		DeliveredToReadMs: 5,
		SlaThresholdMs:    5000,
		MaxRetry:          3,
	}
}

func readySession(repo *fakeSessionRepo, userId string) {
	_ = repo.Create(&model.Session{
		UserId:   userId,
		Status:   session_status_enum.Ready,
		IsActive: true,
	})
}

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

func textRequest(userId, to string) request.SendMessageRequest {
	return request.SendMessageRequest{
		UserId: userId,
		To:     to,
		Payload: request.MessagePayload{
			Type: "text",
			Text: "hello",
		},
	}
}

// ==================== 测试 ====================

func TestSendRejectedWhenSessionNotReady(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	svc := delivery.NewDeliveryService(repos, nil, testSimConfig())

	// 无会话
	if _, err := svc.Send(textRequest("U1", "C1")); !errorx.IsSessionNotReady(err) {
		t.Fatalf("expected session-not-ready error, got %v", err)
	}

	// 有会话但未就绪
	_ = sessionRepo.Create(&model.Session{UserId: "U2", Status: session_status_enum.QRCode})
	if _, err := svc.Send(textRequest("U2", "C1")); !errorx.IsSessionNotReady(err) {
		t.Fatalf("expected session-not-ready error, got %v", err)
	}

	// 拒绝的请求不得留下任何消息记录
	if n := messageRepo.count(); n != 0 {
		t.Fatalf("expected 0 persisted messages, got %d", n)
	}
}

func TestSendReturnsQueuedThenProgressesToRead(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	svc := delivery.NewDeliveryService(repos, broker, testSimConfig())
	readySession(sessionRepo, "U1")

	rsp, err := svc.Send(textRequest("U1", "C1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rsp.Status != message_status_enum.Queued {
		t.Fatalf("expected immediate queued ack, got %s", rsp.Status)
	}
	if rsp.MessageId == "" {
		t.Fatalf("expected non-empty message id")
	}

	waitFor(t, 2*time.Second, func() bool {
		return messageRepo.status(rsp.MessageId) == message_status_enum.Read
	}, "message to reach read")

	want := []string{
		message_status_enum.Queued,
		message_status_enum.Sent,
		message_status_enum.Delivered,
		message_status_enum.Read,
	}
	for _, group := range []string{event.UserGroup("U1"), event.ChatGroup("C1")} {
		got := broker.messageStatusSequence(group, rsp.MessageId)
		if len(got) != len(want) {
			t.Fatalf("group %s: expected %v, got %v", group, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("group %s event %d: expected %s, got %s", group, i, want[i], got[i])
			}
		}
	}

	// 每跳时间戳单调不减
	final := messageRepo.get(rsp.MessageId)
	if !final.SentAt.Valid || !final.DeliveredAt.Valid || !final.ReadAt.Valid {
		t.Fatalf("expected all hop timestamps to be set")
	}
	if final.SentAt.Time.After(final.DeliveredAt.Time) || final.DeliveredAt.Time.After(final.ReadAt.Time) {
		t.Fatalf("hop timestamps not monotonic: sent=%v delivered=%v read=%v",
			final.SentAt.Time, final.DeliveredAt.Time, final.ReadAt.Time)
	}

	if n := sessionRepo.sentCount("U1"); n != 1 {
		t.Fatalf("expected sent count 1, got %d", n)
	}
}

func TestSendIdempotentWithClientMessageId(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	svc := delivery.NewDeliveryService(repos, nil, testSimConfig())
	readySession(sessionRepo, "U1")

	req := textRequest("U1", "C1")
	req.ClientMessageId = "cli-42"

	first, err := svc.Send(req)
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if first.MessageId != "cli-42" {
		t.Fatalf("expected caller-supplied id to be adopted, got %s", first.MessageId)
	}

	second, err := svc.Send(req)
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if second.MessageId != first.MessageId {
		t.Fatalf("expected idempotent replay, got %s vs %s", second.MessageId, first.MessageId)
	}
	if n := messageRepo.count(); n != 1 {
		t.Fatalf("expected exactly 1 persisted message, got %d", n)
	}
}

func TestReceiveDeliversImmediately(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	svc := delivery.NewDeliveryService(repos, broker, testSimConfig())
	readySession(sessionRepo, "U1")

	rsp, err := svc.Receive(request.ReceiveMessageRequest{
		UserId: "U1",
		From:   "+5511999",
		Payload: request.MessagePayload{
			Type: "text",
			Text: "oi",
		},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rsp.Status != message_status_enum.Delivered {
		t.Fatalf("expected delivered, got %s", rsp.Status)
	}
	if !rsp.LatencyAcceptable {
		t.Fatalf("expected near-zero inbound latency to be acceptable")
	}

	// chatId 缺省时取发送方标识
	final := messageRepo.get(rsp.MessageId)
	if final.ChatId != "+5511999" {
		t.Fatalf("expected chat id to default to sender, got %s", final.ChatId)
	}
	if final.Direction != model.DirectionInbound {
		t.Fatalf("expected inbound direction, got %s", final.Direction)
	}

	if n := broker.receivedCount(event.UserGroup("U1")); n != 1 {
		t.Fatalf("expected 1 message_received event, got %d", n)
	}
}

func TestHopChainStopsWhenStatusChangedExternally(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	cfg := testSimConfig()
	cfg.QueuedToSentMs = 50
	svc := delivery.NewDeliveryService(repos, nil, cfg)
	readySession(sessionRepo, "U1")

	rsp, err := svc.Send(textRequest("U1", "C1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// 模拟外部回调抢在第一跳之前把消息置为 failed
	messageRepo.forceStatus(rsp.MessageId, message_status_enum.Failed)

	// 等足整条链的窗口，条件更新落空后链必须终止
	time.Sleep(300 * time.Millisecond)
	if got := messageRepo.status(rsp.MessageId); got != message_status_enum.Failed {
		t.Fatalf("expected chain to stop at failed, got %s", got)
	}
}

func TestRequeueReentersPipeline(t *testing.T) {
	sessionRepo := newFakeSessionRepo()
	messageRepo := newFakeMessageRepo()
	broker := &recordingBroker{}
	repos := &repository.Repositories{Session: sessionRepo, Message: messageRepo}
	svc := delivery.NewDeliveryService(repos, broker, testSimConfig())

	failed := &model.Message{
		Uuid:      "M-failed",
		UserId:    "U1",
		Direction: model.DirectionOutbound,
		ChatId:    "C1",
		Status:    message_status_enum.Failed,
		QueuedAt:  sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
		LastError: "network error",
	}
	_ = messageRepo.Create(failed)

	applied, err := svc.Requeue(*failed)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if !applied {
		t.Fatalf("expected requeue to apply")
	}

	waitFor(t, 2*time.Second, func() bool {
		return messageRepo.status("M-failed") == message_status_enum.Read
	}, "requeued message to reach read")

	final := messageRepo.get("M-failed")
	if final.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", final.RetryCount)
	}
	if final.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", final.LastError)
	}

	// 非 failed/error 状态不可重新入队
	applied, err = svc.Requeue(*final)
	if err != nil {
		t.Fatalf("second Requeue: %v", err)
	}
	if applied {
		t.Fatalf("expected requeue of read message to be rejected")
	}
}
