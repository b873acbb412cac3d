// Package chat 实现状态事件的订阅与扇出
// kafka_broker.go
// 核心职责：分布式模式下的事件广播实现
// 1. 事件写入 Kafka 主题（key = 组键），保证同组事件落在同一分区、有序消费
// 2. 后台消费循环读取主题，交给本地 ChannelBroker 扇出
// 3. Kafka 不可用时降级为本地扇出，永不影响主流程
package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	myconfig "kama_wa_simulator/internal/config"
	"kama_wa_simulator/internal/dto/event"
	"kama_wa_simulator/pkg/constants"
)

// kafkaEnvelope Kafka 消息体：信封原始 JSON 外加组键
type kafkaEnvelope struct {
	GroupKey string          `json:"groupKey"`
	Payload  json.RawMessage `json:"payload"`
}

// KafkaBroker 分布式事件广播器
// 本地订阅者管理复用 ChannelBroker
type KafkaBroker struct {
	local    *ChannelBroker
	producer *kafka.Writer
	consumer *kafka.Reader
	cancel   context.CancelFunc
}

// NewKafkaBroker 创建并初始化 Kafka 广播器
func NewKafkaBroker() *KafkaBroker {
	kafkaConfig := myconfig.GetConfig().KafkaConfig
	producer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkaConfig.HostPort),
		Topic:                  kafkaConfig.EventTopic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           kafkaConfig.Timeout * time.Second,
		RequiredAcks:           kafka.RequireNone,
		AllowAutoTopicCreation: false,
	}
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{kafkaConfig.HostPort},
		Topic:          kafkaConfig.EventTopic,
		CommitInterval: kafkaConfig.Timeout * time.Second,
		GroupID:        "wa_simulator_events",
		StartOffset:    kafka.LastOffset,
		QueueCapacity:  constants.BROKER_BUFFER_SIZE,
	})
	return &KafkaBroker{
		local:    NewChannelBroker(),
		producer: producer,
		consumer: consumer,
	}
}

// Publish 把事件写入 Kafka，写入失败时降级为本地扇出
// 组键作为分区 key，保证同一实体的事件有序
func (b *KafkaBroker) Publish(ctx context.Context, groupKey string, env event.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		zap.L().Error("事件序列化失败", zap.String("event", env.Event), zap.Error(err))
		return nil
	}
	value, err := json.Marshal(kafkaEnvelope{GroupKey: groupKey, Payload: payload})
	if err != nil {
		zap.L().Error("kafka 消息体序列化失败", zap.Error(err))
		return nil
	}

	err = b.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(groupKey),
		Value: value,
	})
	if err != nil {
		// 传输不可用：记录后降级为本地扇出，不向上传播
		zap.L().Warn("kafka 写入失败，降级为本地扇出", zap.Error(err))
		return b.local.Publish(ctx, groupKey, env)
	}
	return nil
}

// Subscribe 注册订阅者（本地）
func (b *KafkaBroker) Subscribe(sub *Subscriber) {
	b.local.Subscribe(sub)
}

// Unsubscribe 注销订阅者（本地）
func (b *KafkaBroker) Unsubscribe(sub *Subscriber) {
	b.local.Unsubscribe(sub)
}

// Start 启动消费循环
// 从主题读取事件并交给本地 ChannelBroker 扇出
func (b *KafkaBroker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go func() {
		for {
			msg, err := b.consumer.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return // Close 触发的退出
				}
				zap.L().Error("kafka 读取失败", zap.Error(err))
				continue
			}
			var ke kafkaEnvelope
			if err := json.Unmarshal(msg.Value, &ke); err != nil {
				zap.L().Error("kafka 消息体反序列化失败", zap.Error(err))
				continue
			}
			var env event.Envelope
			if err := json.Unmarshal(ke.Payload, &env); err != nil {
				zap.L().Error("事件信封反序列化失败", zap.Error(err))
				continue
			}
			_ = b.local.Publish(ctx, ke.GroupKey, env)
		}
	}()
}

// Close 关闭 Kafka 资源和本地订阅者
func (b *KafkaBroker) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if err := b.producer.Close(); err != nil {
		zap.L().Error(err.Error())
	}
	if err := b.consumer.Close(); err != nil {
		zap.L().Error(err.Error())
	}
	b.local.Close()
}

var _ Broker = (*KafkaBroker)(nil)
