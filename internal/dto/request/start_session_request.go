package request

// StartSessionRequest 启动会话请求
type StartSessionRequest struct {
	UserId string `json:"userId" binding:"required"` // 所属用户 UUID
}
