package respond

// StatsRespond 投递统计响应
// 各比率为占总数的百分比，总数为 0 时一律为 0
type StatsRespond struct {
	Total        int64            `json:"total"`        // 消息总数
	StatusCounts map[string]int64 `json:"statusCounts"` // 各状态计数
	DeliveryRate float64          `json:"deliveryRate"` // 送达率（delivered+read）
	ReadRate     float64          `json:"readRate"`     // 已读率
	FailureRate  float64          `json:"failureRate"`  // 失败率（failed+error）
}

// MarkChatReadRespond 会话标记已读响应
type MarkChatReadRespond struct {
	Affected int64 `json:"affected"` // 受影响的消息条数
}

// RetryScanRespond 重试扫描响应
type RetryScanRespond struct {
	Retried int `json:"retried"` // 本轮重新入队的消息条数
}
