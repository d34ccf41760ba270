package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "", cfg.Database.Type)
		assert.False(t, cfg.Redis.Enabled())
		assert.Equal(t, 60*time.Second, cfg.Cache.ListTTL)
		assert.Equal(t, 5*time.Minute, cfg.Cache.ResourceTTL)
		assert.Equal(t, "ditmail:tags", cfg.Cache.TagChannel)
		assert.Equal(t, 8, cfg.Mailbox.BulkParallelism)
		assert.Equal(t, int64(25*1024*1024), cfg.SMTP.MaxMessageBytes)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)
		t.Setenv("DITMAIL_SERVER_PORT", "9090")
		t.Setenv("DITMAIL_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("DITMAIL_REDIS_ADDRESS", "redis:6379")
		t.Setenv("DITMAIL_CACHE_LIST_TTL", "30s")
		t.Setenv("DITMAIL_DATABASE_TYPE", "Postgres")
		t.Setenv("DITMAIL_DATABASE_DSN", "postgres://u:p@localhost/ditmail")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.True(t, cfg.Redis.Enabled())
		assert.Equal(t, 30*time.Second, cfg.Cache.ListTTL)
		assert.Equal(t, "postgres", cfg.Database.Type)
	})

	t.Run("拒绝默认 JWT 密钥", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", "change-me-in-production")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("拒绝过短的 JWT 密钥", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", "short")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("拒绝超过一小时的缓存 TTL", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)
		t.Setenv("DITMAIL_CACHE_RESOURCE_TTL", "2h")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.resource_ttl")
	})

	t.Run("非法的时长格式", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)
		t.Setenv("DITMAIL_WEBHOOK_TIMEOUT", "soon")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("数据库类型缺少 DSN", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)
		t.Setenv("DITMAIL_DATABASE_TYPE", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		t.Setenv("DITMAIL_JWT_SECRET", testSecret)
		t.Setenv("DITMAIL_DATABASE_TYPE", "oracle")
		t.Setenv("DITMAIL_DATABASE_DSN", "x")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
	assert.Empty(t, parseList(""))
}
