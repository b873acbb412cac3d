// Package config 提供应用程序的配置加载和管理功能
// 使用 TOML 格式的配置文件，支持多路径查找
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml" // TOML 配置文件解析库

	"kama_wa_simulator/pkg/constants"
)

// MainConfig 主配置，包含应用基本信息
type MainConfig struct {
	AppName string `toml:"appName"` // 应用名称，用于日志标识等
	Host    string `toml:"host"`    // 服务器监听地址，如 "0.0.0.0"
	Port    int    `toml:"port"`    // 服务器监听端口，如 8000
}

// MysqlConfig MySQL 数据库连接配置
type MysqlConfig struct {
	Host         string `toml:"host"`         // MySQL 服务器地址
	Port         int    `toml:"port"`         // MySQL 端口，默认 3306
	User         string `toml:"user"`         // 数据库用户名
	Password     string `toml:"password"`     // 数据库密码
	DatabaseName string `toml:"databaseName"` // 数据库名称
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `toml:"host"`     // Redis 服务器地址
	Port     int    `toml:"port"`     // Redis 端口，默认 6379
	Password string `toml:"password"` // Redis 密码，无密码留空
	Db       int    `toml:"db"`       // Redis 数据库编号，默认 0
}

// LogConfig 日志配置，使用 lumberjack 进行日志轮转
type LogConfig struct {
	LogPath    string `toml:"logPath"`    // 日志文件存储目录
	FileName   string `toml:"fileName"`   // 日志文件名
	MaxSize    int    `toml:"maxSize"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `toml:"maxBackups"` // 保留旧日志文件的最大个数
	MaxAge     int    `toml:"maxAge"`     // 保留旧日志文件的最大天数
	Level      string `toml:"level"`      // 日志级别：debug, info, warn, error
}

// KafkaConfig Kafka 消息队列配置
// 事件广播支持两种模式：channel（单机内存）和 kafka（分布式）
type KafkaConfig struct {
	MessageMode string        `toml:"messageMode"` // 消息模式："channel" 或 "kafka"
	HostPort    string        `toml:"hostPort"`    // Kafka 服务器地址，如 "localhost:9092"
	EventTopic  string        `toml:"eventTopic"`  // 状态事件主题
	Partition   int           `toml:"partition"`   // 分区数
	Timeout     time.Duration `toml:"timeout"`     // 超时时间
}

// SnowflakeConfig 雪花算法配置
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"` // 雪花算法节点 ID，范围 0-1023，分布式部署时每台机器需唯一
}

// SimulatorConfig 模拟器核心配置
// 会话状态机和消息投递管线的延迟参数均在此配置，
// 延迟阈值（SLA）只在这里定义，代码中不得在调用点写死
type SimulatorConfig struct {
	// 会话状态机延迟（毫秒）：start 后依次推进到 qrcode、authenticated、ready
	ConnectingToQRCodeMs    int `toml:"connectingToQRCodeMs"`    // connecting → qrcode
	QRCodeToAuthenticatedMs int `toml:"qrcodeToAuthenticatedMs"` // qrcode → authenticated
	AuthenticatedToReadyMs  int `toml:"authenticatedToReadyMs"`  // authenticated → ready

	// 消息投递管线延迟（毫秒）：queued 后依次推进到 sent、delivered、read
	QueuedToSentMs    int `toml:"queuedToSentMs"`    // queued → sent
	SentToDeliveredMs int `toml:"sentToDeliveredMs"` // sent → delivered
	DeliveredToReadMs int `toml:"deliveredToReadMs"` // delivered → read

	SlaThresholdMs int `toml:"slaThresholdMs"` // SLA 延迟阈值（毫秒），默认 5000
	MaxRetry       int `toml:"maxRetry"`       // 失败消息最大自动重试次数

	SessionIdleTimeoutSec int `toml:"sessionIdleTimeoutSec"` // 会话卡死超时（秒），超过后被清扫器强制断开
	FailedRetentionDays   int `toml:"failedRetentionDays"`   // 失败消息保留天数，过期由清理任务删除

	RetryScanIntervalSec    int `toml:"retryScanIntervalSec"`    // 重试扫描周期（秒）
	SessionSweepIntervalSec int `toml:"sessionSweepIntervalSec"` // 会话清扫周期（秒）
	CleanupIntervalSec      int `toml:"cleanupIntervalSec"`      // 失败消息清理周期（秒）
}

// SessionDelays 返回会话状态机三段延迟
func (c *SimulatorConfig) SessionDelays() [3]time.Duration {
	return [3]time.Duration{
		time.Duration(c.ConnectingToQRCodeMs) * time.Millisecond,
		time.Duration(c.QRCodeToAuthenticatedMs) * time.Millisecond,
		time.Duration(c.AuthenticatedToReadyMs) * time.Millisecond,
	}
}

// HopDelays 返回消息投递管线三段延迟
func (c *SimulatorConfig) HopDelays() [3]time.Duration {
	return [3]time.Duration{
		time.Duration(c.QueuedToSentMs) * time.Millisecond,
		time.Duration(c.SentToDeliveredMs) * time.Millisecond,
		time.Duration(c.DeliveredToReadMs) * time.Millisecond,
	}
}

// SlaThreshold 返回 SLA 延迟阈值
func (c *SimulatorConfig) SlaThreshold() time.Duration {
	return time.Duration(c.SlaThresholdMs) * time.Millisecond
}

// SessionIdleTimeout 返回会话卡死超时
func (c *SimulatorConfig) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSec) * time.Second
}

// Config 应用程序总配置，聚合所有子配置
type Config struct {
	MainConfig      `toml:"mainConfig"`      // 主配置
	MysqlConfig     `toml:"mysqlConfig"`     // MySQL 配置
	RedisConfig     `toml:"redisConfig"`     // Redis 配置
	LogConfig       `toml:"logConfig"`       // 日志配置
	KafkaConfig     `toml:"kafkaConfig"`     // Kafka 配置
	SnowflakeConfig `toml:"snowflakeConfig"` // 雪花算法配置
	SimulatorConfig `toml:"simulatorConfig"` // 模拟器核心配置
}

// config 全局配置单例，延迟加载
var config *Config

// LoadConfig 从多个候选路径加载配置文件
// 按顺序尝试加载，找到第一个可用的配置文件即停止
func LoadConfig() error {
	// 候选配置文件路径（优先加载本地配置）
	paths := []string{
		"configs/config_local.toml",       // 本地开发配置（优先）
		"configs/config.toml",             // 默认配置
		"../../configs/config_local.toml", // 从子目录运行时的路径
		"../../configs/config.toml",       // 从子目录运行时的路径
	}

	for _, path := range paths {
		if _, err := toml.DecodeFile(path, config); err == nil {
			return nil
		}
	}

	return fmt.Errorf("could not find configuration file in any of the search paths")
}

// GetConfig 获取全局配置实例（单例模式）
// 首次调用时会自动加载配置文件；
// 找不到配置文件时回落到内置默认值，保证零配置也能启动
func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		if err := LoadConfig(); err != nil {
			config.SimulatorConfig.SlaThresholdMs = constants.DEFAULT_SLA_MS
			config.SimulatorConfig.MaxRetry = constants.DEFAULT_MAX_RETRY
		}
	}
	return config
}
