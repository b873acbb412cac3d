// Package chat 实现状态事件的订阅与扇出
// conn_manager.go
// 核心职责：WebSocket 订阅连接管理
// 1. 升级 HTTP 连接为 WebSocket
// 2. 按订阅组注册到广播器，写泵把事件推给前端
// 3. 在 Redis 集合中登记组成员，跨节点可观测（尽力而为）
package chat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	myredis "kama_wa_simulator/internal/dao/redis"
	"kama_wa_simulator/pkg/constants"
)

// Subscriber 一个 WebSocket 订阅连接
type Subscriber struct {
	Id     string          // 连接标识
	Groups []string        // 订阅的组键列表
	Send   chan []byte     // 事件下发通道
	Conn   *websocket.Conn // 底层连接
}

// GroupMembersKey 订阅组在线成员集合的 Redis 键
func GroupMembersKey(group string) string {
	return "group_members_" + group
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewSubscriberInit 处理订阅请求：升级连接并注册到广播器
// groups 为订阅的组键列表（user:<id>、chat:<id>）
func NewSubscriberInit(c *gin.Context, groups []string, cache myredis.AsyncCacheService) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Error(err.Error())
		return
	}
	sub := &Subscriber{
		Id:     uuid.NewString(),
		Groups: groups,
		Send:   make(chan []byte, constants.CHANNEL_SIZE),
		Conn:   conn,
	}
	if GlobalBroker != nil {
		GlobalBroker.Subscribe(sub)
	}

	// 在 Redis 中登记组成员，失败只记日志
	if cache != nil {
		cache.SubmitTask(func() {
			ctx := context.Background()
			for _, g := range groups {
				if err := cache.AddToSet(ctx, GroupMembersKey(g), sub.Id); err != nil {
					zap.L().Warn("登记组成员失败", zap.String("group", g), zap.Error(err))
				}
			}
		})
	}

	go sub.readPump(cache)
	go sub.writePump()
	zap.L().Info("ws 订阅成功", zap.String("subscriber", sub.Id), zap.Strings("groups", groups))
}

// readPump 读取连接直到断开
// 订阅连接是单向下发的，入站数据仅用于探测断开
func (s *Subscriber) readPump(cache myredis.AsyncCacheService) {
	defer s.teardown(cache)
	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			zap.L().Debug("ws 连接断开", zap.String("subscriber", s.Id), zap.Error(err))
			return
		}
	}
}

// writePump 从下发通道读取事件写入 WebSocket
func (s *Subscriber) writePump() {
	for data := range s.Send {
		if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			zap.L().Error(err.Error())
			return
		}
	}
}

// teardown 注销订阅并清理组成员登记
func (s *Subscriber) teardown(cache myredis.AsyncCacheService) {
	if GlobalBroker != nil {
		GlobalBroker.Unsubscribe(s)
	}
	if err := s.Conn.Close(); err != nil {
		zap.L().Debug(err.Error())
	}
	if cache != nil {
		cache.SubmitTask(func() {
			ctx := context.Background()
			for _, g := range s.Groups {
				if err := cache.RemoveFromSet(ctx, GroupMembersKey(g), s.Id); err != nil {
					zap.L().Warn("清理组成员失败", zap.String("group", g), zap.Error(err))
				}
			}
		})
	}
}
