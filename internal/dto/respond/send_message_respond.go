package respond

// SendMessageRespond 发送消息响应
// send 只确认 queued 一跳，后续推进通过事件订阅观察
type SendMessageRespond struct {
	MessageId string `json:"messageId"` // 分配的消息 ID
	Status    string `json:"status"`    // 初始状态，恒为 queued
	QueuedAt  string `json:"queuedAt"`  // 入队时间（ISO8601）
}

// ReceiveMessageRespond 入站消息摄入响应
type ReceiveMessageRespond struct {
	MessageId         string `json:"messageId"`         // 分配的消息 ID
	Status            string `json:"status"`            // 恒为 delivered
	LatencyMs         int64  `json:"latencyMs"`         // 计算延迟（接近 0）
	LatencyAcceptable bool   `json:"latencyAcceptable"` // 是否满足 SLA
}
