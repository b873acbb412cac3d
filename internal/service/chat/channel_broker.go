// Package chat 实现状态事件的订阅与扇出
// channel_broker.go
// 核心职责：单机模式下的事件广播实现
// 1. 维护订阅组到订阅者集合的映射
// 2. 事件在进程内直接扇出，不依赖外部消息队列
// 3. 订阅者通道写满时丢弃该订阅者的本次事件（尽力而为）
package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kama_wa_simulator/internal/dto/event"
)

// ChannelBroker 单机事件广播器
type ChannelBroker struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{} // 组键 → 订阅者集合
}

// NewChannelBroker 创建 ChannelBroker 实例
func NewChannelBroker() *ChannelBroker {
	return &ChannelBroker{
		groups: make(map[string]map[*Subscriber]struct{}),
	}
}

// Publish 向指定订阅组发布事件
// 组不存在或没有订阅者时静默返回，事件丢失可以接受
func (b *ChannelBroker) Publish(_ context.Context, groupKey string, env event.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		zap.L().Error("事件序列化失败", zap.String("event", env.Event), zap.Error(err))
		return nil // 广播失败不向上传播
	}

	b.mu.RLock()
	subs := b.groups[groupKey]
	// 拷贝一份，避免持锁写通道
	targets := make([]*Subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.Send <- data:
		default:
			// 订阅者消费过慢，丢弃本次事件
			zap.L().Warn("订阅者通道已满，事件被丢弃",
				zap.String("subscriber", sub.Id),
				zap.String("group", groupKey),
			)
		}
	}
	return nil
}

// Subscribe 注册订阅者到其声明的所有组
func (b *ChannelBroker) Subscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range sub.Groups {
		set, ok := b.groups[g]
		if !ok {
			set = make(map[*Subscriber]struct{})
			b.groups[g] = set
		}
		set[sub] = struct{}{}
	}
	zap.L().Debug("订阅者注册", zap.String("subscriber", sub.Id), zap.Strings("groups", sub.Groups))
}

// Unsubscribe 从所有组注销订阅者
func (b *ChannelBroker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range sub.Groups {
		if set, ok := b.groups[g]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.groups, g)
			}
		}
	}
	zap.L().Debug("订阅者注销", zap.String("subscriber", sub.Id))
}

// Start channel 模式没有消费循环
func (b *ChannelBroker) Start() {}

// Close 关闭所有订阅者通道
func (b *ChannelBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	closed := make(map[*Subscriber]struct{})
	for _, set := range b.groups {
		for sub := range set {
			if _, done := closed[sub]; !done {
				close(sub.Send)
				closed[sub] = struct{}{}
			}
		}
	}
	b.groups = make(map[string]map[*Subscriber]struct{})
}

var _ Broker = (*ChannelBroker)(nil)
