package request

// UpdateStatusRequest 外部状态回调请求（webhook）
type UpdateStatusRequest struct {
	MessageId string `json:"messageId" binding:"required"` // 消息 ID
	Status    string `json:"status" binding:"required,oneof=sent delivered read failed error"`
	Error     string `json:"error"`  // 失败时的错误描述
	Reason    string `json:"reason"` // 状态变更原因
}
