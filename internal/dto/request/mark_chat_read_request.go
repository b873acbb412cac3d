package request

// MarkChatReadRequest 会话整体标记已读请求
type MarkChatReadRequest struct {
	ChatId string `json:"chatId" binding:"required"` // 对话标识
}
