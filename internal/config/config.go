package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义 IMAP 邮箱连接与检索配置
type MailConfig struct {
	Hostname      string // IMAP 服务器地址，格式 "host:port"
	Username      string // IMAP 登录用户名
	Password      string // IMAP 登录密码
	TLS           bool   // 使用隐式 TLS 连接，默认 true
	Mailbox       string // 检索的邮箱目录，默认 "INBOX"
	SearchSubject string // 邮件主题搜索关键词
}

// SyncConfig 定义同步流水线的资源限制
type SyncConfig struct {
	MaxAttachmentSizeMB int           // 附件大小限制（MB），默认 50
	MaxEmailsPerRun     int           // 单次运行最多处理的邮件数，默认 10
	LockTTL             time.Duration // 运行锁过期时间，默认 10 分钟；崩溃的运行在此窗口后自愈
	Interval            time.Duration // 内部轮询间隔，0 表示禁用（依赖外部调度器触发）
}

// MaxAttachmentBytes 返回附件大小限制（字节）
func (c SyncConfig) MaxAttachmentBytes() int64 {
	return int64(c.MaxAttachmentSizeMB) * 1024 * 1024
}

// APIConfig 定义触发接口的安全配置
type APIConfig struct {
	TriggerToken  string  // 触发端点的 Bearer 令牌
	RatePerSecond float64 // 触发端点限流速率，默认 1
	RateBurst     int     // 限流突发容量，默认 3
}

// TargetSeed 初始存储目标配置项（JSON 数组元素）。
// 仅在注册表为空时导入一次，之后注册表为唯一权威。
type TargetSeed struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	Timeout   int    `json:"timeout"`
	ChunkSize int    `json:"chunk_size"`
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到 stdout
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type string // "mysql" 或 "postgres"，留空使用内存存储
	DSN  string
}

// RedisConfig 定义 Redis 缓存服务配置（可选，用于运行锁与已处理缓存）
type RedisConfig struct {
	Address  string // 留空表示不启用 Redis
	Password string
	DB       int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Mail     MailConfig
	Sync     SyncConfig
	API      APIConfig
	Targets  []TargetSeed // 初始存储目标列表
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILBRIDGE_
// 例如: MAILBRIDGE_MAIL_HOSTNAME, MAILBRIDGE_API_TRIGGER_TOKEN
//
// 初始存储目标通过 MAILBRIDGE_STORAGE_TARGETS 提供，格式为 JSON 数组：
//
//	[{"name": "Primary", "url": "https://dav.example.com/files",
//	  "login": "user", "password": "...", "timeout": 60, "chunk_size": 8192}]
//
// 可选字段缺省为 timeout=60、chunk_size=8192；格式错误的条目在加载期
// 报出带下标的配置错误，而不是等到上传时才失败。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailbridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.hostname", "")
	viper.SetDefault("mail.username", "")
	viper.SetDefault("mail.password", "")
	viper.SetDefault("mail.tls", true)
	viper.SetDefault("mail.mailbox", "INBOX")
	viper.SetDefault("mail.search_subject", "")
	viper.SetDefault("sync.max_attachment_size_mb", 50)
	viper.SetDefault("sync.max_emails_per_run", 10)
	viper.SetDefault("sync.lock_ttl", "10m")
	viper.SetDefault("sync.interval", "0")
	viper.SetDefault("api.trigger_token", "")
	viper.SetDefault("api.rate_per_second", 1.0)
	viper.SetDefault("api.rate_burst", 3)
	viper.SetDefault("storage.targets", "")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	lockTTL, err := time.ParseDuration(viper.GetString("sync.lock_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid sync.lock_ttl: %w", err)
	}

	interval, err := time.ParseDuration(viper.GetString("sync.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid sync.interval: %w", err)
	}

	maxSize := viper.GetInt("sync.max_attachment_size_mb")
	if maxSize <= 0 {
		maxSize = 50
	}

	maxEmails := viper.GetInt("sync.max_emails_per_run")
	if maxEmails <= 0 {
		maxEmails = 10
	}

	targets, err := parseTargets(viper.GetString("storage.targets"))
	if err != nil {
		return nil, err
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	dbType := viper.GetString("database.type")
	if dbType != "" && dbType != "mysql" && dbType != "postgres" {
		return nil, fmt.Errorf("invalid database.type %q (supported: mysql, postgres)", dbType)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			Hostname:      viper.GetString("mail.hostname"),
			Username:      viper.GetString("mail.username"),
			Password:      viper.GetString("mail.password"),
			TLS:           viper.GetBool("mail.tls"),
			Mailbox:       viper.GetString("mail.mailbox"),
			SearchSubject: viper.GetString("mail.search_subject"),
		},
		Sync: SyncConfig{
			MaxAttachmentSizeMB: maxSize,
			MaxEmailsPerRun:     maxEmails,
			LockTTL:             lockTTL,
			Interval:            interval,
		},
		API: APIConfig{
			TriggerToken:  viper.GetString("api.trigger_token"),
			RatePerSecond: viper.GetFloat64("api.rate_per_second"),
			RateBurst:     viper.GetInt("api.rate_burst"),
		},
		Targets: targets,
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type: dbType,
			DSN:  viper.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseTargets 将 JSON 数组解析为强类型的目标种子列表。
// 对可选字段应用默认值，对缺失必填字段的条目返回带下标的错误。
func parseTargets(raw string) ([]TargetSeed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var seeds []TargetSeed
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return nil, fmt.Errorf("invalid storage.targets JSON: %w", err)
	}

	for i := range seeds {
		if seeds[i].Name == "" {
			seeds[i].Name = fmt.Sprintf("Server-%d", i+1)
		}
		if seeds[i].Timeout <= 0 {
			seeds[i].Timeout = 60
		}
		if seeds[i].ChunkSize <= 0 {
			seeds[i].ChunkSize = 8192
		}
		if seeds[i].URL == "" {
			return nil, fmt.Errorf("storage.targets[%d] (%s): url is required", i, seeds[i].Name)
		}
		if seeds[i].Login == "" {
			return nil, fmt.Errorf("storage.targets[%d] (%s): login is required", i, seeds[i].Name)
		}
		if seeds[i].Password == "" {
			return nil, fmt.Errorf("storage.targets[%d] (%s): password is required", i, seeds[i].Name)
		}
	}

	return seeds, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录（从 backend/ 子目录运行的情况）。
// 文件不存在时静默跳过；已存在的环境变量优先级更高。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
