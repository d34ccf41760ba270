package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MaxCacheTTL 缓存 TTL 上限，缓存只是性能层，不允许长时间保留过期数据
const MaxCacheTTL = time.Hour

// ServerConfig HTTP 服务器监听配置
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 8080
	ShutdownTimeout time.Duration // 优雅关闭等待时间
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string // "*" 表示允许所有来源
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool   // 控制台编码 + 错误堆栈
	File        string // 非空时同时写入文件并按大小轮转
	MaxSize     int    // MB
	MaxBackups  int
	MaxAge      int // 天
	Compress    bool
}

// DatabaseConfig 数据库连接配置。Type 为空时使用内存存储。
type DatabaseConfig struct {
	Type            string // "postgres" 或 "mysql"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 配置。Address 为空时列表缓存退化为进程内实现。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Enabled 是否配置了 Redis
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// JWTConfig 访问令牌校验配置（令牌由外部身份服务签发）
type JWTConfig struct {
	Secret       string
	Issuer       string
	AccessExpiry time.Duration
}

// CacheConfig 两级缓存配置
type CacheConfig struct {
	ListTTL         time.Duration // Tier A 列表页
	ResourceTTL     time.Duration // Tier B 资源页
	LocalMaxEntries int           // Tier B 进程内最大条目数
	TagChannel      string        // Tier B 跨实例失效广播频道
}

// WebhookConfig 事件投递配置
type WebhookConfig struct {
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	RetryInterval time.Duration
}

// SMTPConfig 入站邮件接收配置
type SMTPConfig struct {
	Enabled         bool
	BindAddr        string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
}

// MailboxConfig 邮件变更相关参数
type MailboxConfig struct {
	BulkParallelism int // 批量操作并发度
	BulkPerMinute   int // 每用户每分钟批量请求数
	BulkBurst       int
}

// Config 根配置
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Cache    CacheConfig
	Webhook  WebhookConfig
	SMTP     SMTPConfig
	Mailbox  MailboxConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 优先级（从高到低）：系统环境变量、.env 文件、默认值。
// 环境变量前缀 DITMAIL_，例如 DITMAIL_SERVER_PORT、DITMAIL_CACHE_LIST_TTL。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("ditmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"server.shutdown_timeout",
		"database.conn_max_lifetime",
		"jwt.access_expiry",
		"cache.list_ttl",
		"cache.resource_ttl",
		"webhook.timeout",
		"webhook.retry_interval",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: durations["server.shutdown_timeout"],
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:       v.GetString("jwt.secret"),
			Issuer:       v.GetString("jwt.issuer"),
			AccessExpiry: durations["jwt.access_expiry"],
		},
		Cache: CacheConfig{
			ListTTL:         durations["cache.list_ttl"],
			ResourceTTL:     durations["cache.resource_ttl"],
			LocalMaxEntries: v.GetInt("cache.local_max_entries"),
			TagChannel:      v.GetString("cache.tag_channel"),
		},
		Webhook: WebhookConfig{
			Workers:       v.GetInt("webhook.workers"),
			QueueSize:     v.GetInt("webhook.queue_size"),
			Timeout:       durations["webhook.timeout"],
			RetryInterval: durations["webhook.retry_interval"],
		},
		SMTP: SMTPConfig{
			Enabled:         v.GetBool("smtp.enabled"),
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          strings.ToLower(v.GetString("smtp.domain")),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   v.GetInt("smtp.max_recipients"),
		},
		Mailbox: MailboxConfig{
			BulkParallelism: v.GetInt("mailbox.bulk_parallelism"),
			BulkPerMinute:   v.GetInt("mailbox.bulk_per_minute"),
			BulkBurst:       v.GetInt("mailbox.bulk_burst"),
		},
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "ditmail")
	v.SetDefault("jwt.access_expiry", "15m")
	v.SetDefault("cache.list_ttl", "60s")
	v.SetDefault("cache.resource_ttl", "5m")
	v.SetDefault("cache.local_max_entries", 10000)
	v.SetDefault("cache.tag_channel", "ditmail:tags")
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 256)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.retry_interval", "1m")
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.bind_addr", ":2525")
	v.SetDefault("smtp.domain", "ditmail.local")
	v.SetDefault("smtp.max_message_bytes", 25*1024*1024)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("mailbox.bulk_parallelism", 8)
	v.SetDefault("mailbox.bulk_per_minute", 60)
	v.SetDefault("mailbox.bulk_burst", 10)
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	// 安全检查：禁止使用默认的 JWT secret
	if c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set DITMAIL_JWT_SECRET environment variable")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	switch c.Database.Type {
	case "", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database.type %q (supported: postgres, mysql)", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is %s", c.Database.Type)
	}

	for name, ttl := range map[string]time.Duration{
		"cache.list_ttl":     c.Cache.ListTTL,
		"cache.resource_ttl": c.Cache.ResourceTTL,
	} {
		if ttl <= 0 || ttl > MaxCacheTTL {
			return fmt.Errorf("%s must be between 1ns and %s, got %s", name, MaxCacheTTL, ttl)
		}
	}
	if c.Cache.LocalMaxEntries <= 0 {
		return fmt.Errorf("cache.local_max_entries must be positive")
	}

	if c.Webhook.Workers <= 0 || c.Webhook.QueueSize <= 0 {
		return fmt.Errorf("webhook.workers and webhook.queue_size must be positive")
	}
	if c.Mailbox.BulkParallelism <= 0 {
		c.Mailbox.BulkParallelism = 1
	}
	return nil
}

// Addr HTTP 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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

// loadEnvFile 尝试加载当前目录或父目录的 .env，文件不存在时静默忽略。
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
