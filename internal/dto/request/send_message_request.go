package request

// SendMessageRequest 发送消息请求
// ClientMessageId 可选：调用方自带 ID 会被原样采用，使重试幂等
type SendMessageRequest struct {
	UserId          string         `json:"userId" binding:"required"` // 所属用户 UUID
	To              string         `json:"to" binding:"required"`     // 接收方号码/标识
	Payload         MessagePayload `json:"payload" binding:"required"`
	ClientMessageId string         `json:"clientMessageId"` // 可选的调用方消息 ID
	FromAgent       bool           `json:"fromAgent"`       // 是否坐席发送
}
