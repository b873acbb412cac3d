// Package session_status_enum 定义会话状态枚举
// 会话状态沿固定路径推进：disconnected → connecting → qrcode → authenticated → ready
// stop 操作可以从任意状态回到 disconnected
package session_status_enum

const (
	Disconnected  = "disconnected"  // 未连接（初始状态 / 停止后状态）
	Connecting    = "connecting"    // 连接中
	QRCode        = "qrcode"        // 等待扫描二维码
	Authenticated = "authenticated" // 已认证
	Ready         = "ready"         // 就绪，可收发消息
	Error         = "error"         // 错误状态
)

// Sequence 启动后无干预时的完整状态序列（不含初始 disconnected）
var Sequence = []string{Connecting, QRCode, Authenticated, Ready}

// IsActive 判断是否为非终止状态（连接建立过程中或已就绪）
// 处于这些状态时重复 start 是幂等的
func IsActive(status string) bool {
	switch status {
	case Connecting, QRCode, Authenticated, Ready:
		return true
	}
	return false
}
