// Package message_status_enum 定义消息状态枚举
// 消息状态只能沿 queued → sent → delivered → read 推进，
// 或在任意非终止状态横向进入 failed/error
package message_status_enum

const (
	Queued    = "queued"    // 已入队（初始状态）
	Sent      = "sent"      // 已发送
	Delivered = "delivered" // 已送达
	Read      = "read"      // 已读
	Failed    = "failed"    // 发送失败（业务失败）
	Error     = "error"     // 异常（传输层错误）
)

// rank 状态的推进序号，用于校验只进不退
var rank = map[string]int{
	Queued:    0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// IsTerminal 判断是否为失败侧终止状态
func IsTerminal(status string) bool {
	return status == Failed || status == Error
}

// IsValid 判断是否为合法的消息状态
func IsValid(status string) bool {
	if IsTerminal(status) {
		return true
	}
	_, ok := rank[status]
	return ok
}

// CanAdvance 判断 from → to 是否为合法迁移
// 推进路径只进不退；failed/error 可从任意非终止状态进入
func CanAdvance(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	if IsTerminal(to) {
		return true
	}
	fromRank, ok1 := rank[from]
	toRank, ok2 := rank[to]
	return ok1 && ok2 && toRank > fromRank
}
