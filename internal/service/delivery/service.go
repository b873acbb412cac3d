// Package delivery 实现消息投递管线
// 出站消息：同步落库为 queued 并立即返回，其后 sent → delivered → read
// 由一条按序延迟链驱动（单 goroutine 顺序推进，不用 N 个无序定时器）
// 入站消息：到达即已送达，延迟接近 0
// 每一跳都：条件落库 → 计算延迟 → 广播；条件更新落空即终止整条链
package delivery

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dao/mysql/repository"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/internal/dto/request"
	"kama_wa_simulator/internal/dto/respond"
	"kama_wa_simulator/internal/model"
	"kama_wa_simulator/internal/service/chat"
	"kama_wa_simulator/pkg/enum/message/message_status_enum"
	"kama_wa_simulator/pkg/enum/session/session_status_enum"
	"kama_wa_simulator/pkg/errorx"
	"kama_wa_simulator/pkg/util/snowflake"
)

// deliveryService 消息投递管线实现
type deliveryService struct {
	repos  *repository.Repositories
	broker chat.Publisher
	simCfg *config.SimulatorConfig
}

// NewDeliveryService 构造函数
func NewDeliveryService(repos *repository.Repositories, broker chat.Publisher, simCfg *config.SimulatorConfig) *deliveryService {
	return &deliveryService{
		repos:  repos,
		broker: broker,
		simCfg: simCfg,
	}
}

// requireReady 校验会话已就绪
// 非 ready 状态下 send/receive 同步拒绝，不落任何消息记录
func (d *deliveryService) requireReady(userId string) error {
	session, err := d.repos.Session.FindByUserId(userId)
	if err != nil {
		if errorx.IsNotFound(err) {
			return errorx.Wrapf(err, errorx.CodeSessionNotReady, "会话未就绪 user_id=%s", userId)
		}
		return err
	}
	if session.Status != session_status_enum.Ready {
		return errorx.Newf(errorx.CodeSessionNotReady, "会话未就绪 user_id=%s status=%s", userId, session.Status)
	}
	return nil
}

// Send 发送出站消息
// 只确认 queued 一跳即返回（fire-and-forget），后续推进由延迟链驱动、
// 通过订阅观察；调用方自带的消息 ID 被原样采用，重复提交幂等返回
func (d *deliveryService) Send(req request.SendMessageRequest) (*respond.SendMessageRespond, error) {
	if err := d.requireReady(req.UserId); err != nil {
		return nil, err
	}

	// 幂等：重试携带同一 clientMessageId 时返回已有记录
	if req.ClientMessageId != "" {
		if existing, err := d.repos.Message.FindByUuid(req.ClientMessageId); err == nil {
			return &respond.SendMessageRespond{
				MessageId: existing.Uuid,
				Status:    existing.Status,
				QueuedAt:  formatTime(existing.QueuedAt),
			}, nil
		} else if !errorx.IsNotFound(err) {
			return nil, err
		}
	}

	messageId := req.ClientMessageId
	if messageId == "" {
		messageId = snowflake.GenerateMessageID()
	}

	now := time.Now()
	message := &model.Message{
		Uuid:      messageId,
		UserId:    req.UserId,
		Direction: model.DirectionOutbound,
		Type:      req.Payload.Type,
		ChatId:    req.To,
		ContactId: req.To,
		Content:   req.Payload.Text,
		MediaUrl:  req.Payload.MediaUrl,
		FromAgent: req.FromAgent,
	}
	message.MarkQueued(now)

	// 持久层是事实来源，落库失败必须向上传播
	if err := d.repos.Message.Create(message); err != nil {
		zap.L().Error("创建出站消息失败", zap.String("uuid", messageId), zap.Error(err))
		return nil, err
	}
	if err := d.repos.Session.IncrementSentCount(req.UserId); err != nil {
		zap.L().Warn("递增发送计数失败", zap.String("user_id", req.UserId), zap.Error(err))
	}

	d.emitMessageStatus(message, "", "", now)

	// 一条消息一条延迟链，链内各跳天然有序
	go d.runHops(*message)

	return &respond.SendMessageRespond{
		MessageId: messageId,
		Status:    message_status_enum.Queued,
		QueuedAt:  now.UTC().Format(time.RFC3339Nano),
	}, nil
}

// Receive 摄入入站消息
// 入站消息到达即已送达，直接落库为 delivered，计算延迟接近 0
func (d *deliveryService) Receive(req request.ReceiveMessageRequest) (*respond.ReceiveMessageRespond, error) {
	if err := d.requireReady(req.UserId); err != nil {
		return nil, err
	}

	chatId := req.ChatId
	if chatId == "" {
		chatId = req.From
	}

	now := time.Now()
	message := &model.Message{
		Uuid:      snowflake.GenerateMessageID(),
		UserId:    req.UserId,
		Direction: model.DirectionInbound,
		Type:      req.Payload.Type,
		ChatId:    chatId,
		ContactId: req.From,
		Content:   req.Payload.Text,
		MediaUrl:  req.Payload.MediaUrl,
	}
	message.MarkQueued(now)
	if err := message.MarkDelivered(now); err != nil {
		return nil, err
	}

	if err := d.repos.Message.Create(message); err != nil {
		zap.L().Error("创建入站消息失败", zap.String("uuid", message.Uuid), zap.Error(err))
		return nil, err
	}
	if err := d.repos.Session.IncrementReceivedCount(req.UserId); err != nil {
		zap.L().Warn("递增接收计数失败", zap.String("user_id", req.UserId), zap.Error(err))
	}

	d.emitReceived(message, now)

	return &respond.ReceiveMessageRespond{
		MessageId:         message.Uuid,
		Status:            message.Status,
		LatencyMs:         message.TotalLatency().Milliseconds(),
		LatencyAcceptable: message.IsLatencyAcceptable(d.simCfg.SlaThreshold()),
	}, nil
}

// Requeue 把失败消息重新送回管线（重试协调器调用）
// 条件更新保证与迟到的外部状态回调竞争时只有一方生效
func (d *deliveryService) Requeue(message model.Message) (bool, error) {
	now := time.Now()
	applied, err := d.repos.Message.UpdateStatusIfCurrent(message.Uuid,
		[]string{message_status_enum.Failed, message_status_enum.Error},
		map[string]any{
			"status":      message_status_enum.Queued,
			"queued_at":   now,
			"retry_count": message.RetryCount + 1,
			"last_error":  "",
		})
	if err != nil || !applied {
		return false, err
	}

	message.RetryCount++
	message.LastError = ""
	message.MarkQueued(now)
	d.emitMessageStatus(&message, "", "retry", now)

	go d.runHops(message)
	return true, nil
}

// runHops 驱动一条消息的按序延迟链：sent → delivered → read
// 条件更新落空（外部回调或 stop 抢先改变了状态）即终止，
// 先落库后广播，订阅者读到的事件必有持久记录背书
func (d *deliveryService) runHops(message model.Message) {
	delays := d.simCfg.HopDelays()

	type hop struct {
		from string
		mark func(m *model.Message, t time.Time) error
		col  string
	}
	hops := []hop{
		{from: message_status_enum.Queued, mark: (*model.Message).MarkSent, col: "sent_at"},
		{from: message_status_enum.Sent, mark: (*model.Message).MarkDelivered, col: "delivered_at"},
		{from: message_status_enum.Delivered, mark: (*model.Message).MarkRead, col: "read_at"},
	}

	for i, h := range hops {
		time.Sleep(delays[i])

		now := time.Now()
		if err := h.mark(&message, now); err != nil {
			zap.L().Warn("消息状态推进被拒绝", zap.String("uuid", message.Uuid), zap.Error(err))
			return
		}
		applied, err := d.repos.Message.UpdateStatusIfCurrent(message.Uuid,
			[]string{h.from},
			map[string]any{
				"status": message.Status,
				h.col:    sql.NullTime{Time: now, Valid: true},
			})
		if err != nil {
			zap.L().Error("消息迁移落库失败",
				zap.String("uuid", message.Uuid),
				zap.String("to", message.Status),
				zap.Error(err),
			)
			return
		}
		if !applied {
			// 外部状态更新抢先生效，链终止
			return
		}
		d.emitMessageStatus(&message, "", "", now)
	}
}

// emitMessageStatus 广播消息状态事件到用户组和对话组
// 每跳延迟自原始 queued 时间起算，SLA 阈值取自配置
func (d *deliveryService) emitMessageStatus(message *model.Message, errText, reason string, now time.Time) {
	if d.broker == nil {
		return
	}
	latency := now.Sub(queuedTime(message, now))
	env := event.NewMessageStatus(now, event.MessageStatusData{
		MessageId:         message.Uuid,
		UserId:            message.UserId,
		ChatId:            message.ChatId,
		Status:            message.Status,
		LatencyMs:         latency.Milliseconds(),
		LatencyAcceptable: message.IsLatencyAcceptable(d.simCfg.SlaThreshold()),
		Error:             errText,
		Reason:            reason,
		RetryCount:        message.RetryCount,
	})
	ctx := context.Background()
	if err := d.broker.Publish(ctx, event.UserGroup(message.UserId), env); err != nil {
		zap.L().Warn("广播消息事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
	if err := d.broker.Publish(ctx, event.ChatGroup(message.ChatId), env); err != nil {
		zap.L().Warn("广播消息事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
}

// emitReceived 广播入站消息事件
func (d *deliveryService) emitReceived(message *model.Message, now time.Time) {
	if d.broker == nil {
		return
	}
	env := event.NewMessageReceived(now, event.MessageReceivedData{
		MessageId: message.Uuid,
		UserId:    message.UserId,
		ChatId:    message.ChatId,
		From:      message.ContactId,
		Type:      message.Type,
		Text:      message.Content,
		MediaUrl:  message.MediaUrl,
	})
	ctx := context.Background()
	if err := d.broker.Publish(ctx, event.UserGroup(message.UserId), env); err != nil {
		zap.L().Warn("广播入站事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
	if err := d.broker.Publish(ctx, event.ChatGroup(message.ChatId), env); err != nil {
		zap.L().Warn("广播入站事件失败", zap.String("uuid", message.Uuid), zap.Error(err))
	}
}

// queuedTime 取消息的入队时间，没有时退化为当前时间
func queuedTime(message *model.Message, fallback time.Time) time.Time {
	if message.QueuedAt.Valid {
		return message.QueuedAt.Time
	}
	return fallback
}

// formatTime 格式化可空时间为 ISO8601
func formatTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}
