// Package chat 实现状态事件的订阅与扇出
// broker.go
// 核心职责：定义事件广播接口
// 抽象事件发布和订阅者管理，支持 Kafka 和 Channel 两种实现
package chat

import (
	"context"

	"kama_wa_simulator/internal/dto/event"
)

// Broker 定义事件广播接口
// 广播是尽力而为的：持久层才是事实来源，事件丢失可以接受
// 支持多种实现：KafkaBroker (分布式), ChannelBroker (单机)
type Broker interface {
	// Publish 向指定订阅组发布事件
	Publish(ctx context.Context, groupKey string, env event.Envelope) error
	// Subscribe 注册订阅者
	Subscribe(sub *Subscriber)
	// Unsubscribe 注销订阅者
	Unsubscribe(sub *Subscriber)
	// Start 启动消费循环（channel 模式为空操作）
	Start()
	// Close 关闭广播器资源
	Close()
}

// Publisher 只写视图，业务服务只依赖发布能力
type Publisher interface {
	Publish(ctx context.Context, groupKey string, env event.Envelope) error
}

// GlobalBroker 全局事件广播实例
// 在 main.go 中根据配置初始化为 KafkaBroker 或 ChannelBroker
var GlobalBroker Broker
