package respond

// SessionStatusRespond 会话状态查询响应
type SessionStatusRespond struct {
	UserId        string `json:"userId"`        // 所属用户 UUID
	Status        string `json:"status"`        // 当前状态
	DeviceLabel   string `json:"deviceLabel"`   // 设备标识
	SentCount     int64  `json:"sentCount"`     // 已发送消息数
	ReceivedCount int64  `json:"receivedCount"` // 已接收消息数
	IsActive      bool   `json:"isActive"`      // 是否激活
	Subscribers   int    `json:"subscribers"`   // 当前在线订阅者数量
}
