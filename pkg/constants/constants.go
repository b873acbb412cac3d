package constants

const (
	CHANNEL_SIZE         = 100  // 订阅者通道大小
	BROKER_BUFFER_SIZE   = 1024 // 广播器内部通道大小
	DEFAULT_SLA_MS       = 5000 // 默认 SLA 延迟阈值（毫秒）
	DEFAULT_MAX_RETRY    = 3    // 默认最大重试次数
	STATS_CACHE_TIMEOUT  = 1    // 统计缓存过期时间（分钟）
	STATUS_CACHE_TIMEOUT = 1    // 会话状态缓存过期时间（分钟）
)
