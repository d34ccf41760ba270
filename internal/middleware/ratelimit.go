package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ditmail/backend/internal/monitoring"
)

// RateLimiter 按用户限流（未认证时按 IP）
type RateLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[string]*rateClient
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器
//
// 参数:
//   - name: 名称，用于指标
//   - perMinute: 每分钟允许的请求数
//   - burst: 突发上限
func NewRateLimiter(name string, perMinute, burst int, metrics *monitoring.Metrics) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		name:    name,
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		metrics: metrics,
		clients: make(map[string]*rateClient),
	}
}

// Handler 限流中间件
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ContextUserID)
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.allow(key) {
			rl.metrics.RecordRateLimitBlock(rl.name)
			c.Header("Retry-After", strconv.Itoa(int(1/float64(rl.limit))+1))
			abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &rateClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Cleanup 定期清理长时间未出现的客户端，直到 ctx 结束
func (rl *RateLimiter) Cleanup(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, cl := range rl.clients {
				if time.Since(cl.lastSeen) > idle {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
