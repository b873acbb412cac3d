package request

// ReceiveMessageRequest 入站消息摄入请求
// 上游 webhook 层已把服务商报文解码成规范形态 {from, chatId, payload}
type ReceiveMessageRequest struct {
	UserId  string         `json:"userId" binding:"required"` // 所属用户 UUID
	From    string         `json:"from" binding:"required"`   // 发送方号码/标识
	ChatId  string         `json:"chatId"`                    // 对话标识，缺省时取 from
	Payload MessagePayload `json:"payload" binding:"required"`
}
