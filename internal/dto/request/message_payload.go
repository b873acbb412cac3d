package request

// MessagePayload 消息载荷的规范形态
// 外部 webhook 层负责把各服务商的报文解码成该形态，核心不解析服务商格式
type MessagePayload struct {
	Type     string `json:"type" binding:"required,oneof=text media"` // 消息类型
	Text     string `json:"text"`                                     // 文本内容
	MediaUrl string `json:"mediaUrl"`                                 // 媒体链接
}
