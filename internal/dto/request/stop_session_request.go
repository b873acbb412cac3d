package request

// StopSessionRequest 停止会话请求
type StopSessionRequest struct {
	UserId string `json:"userId" binding:"required"` // 所属用户 UUID
}
