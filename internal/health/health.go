package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Pinger 可以探测连通性的依赖
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  Pinger
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。redis 为 nil 时不检查 Redis。
func NewHealthChecker(store Pinger, rdb redis.UniversalClient, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  rdb,
		logger: logger,
	}
	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储不可用时进程无法提供任何服务
	hc.health.AddLivenessCheck("store", StoreHealthCheck(hc.store))
	hc.health.AddReadinessCheck("store", StoreHealthCheck(hc.store))

	// Redis 只是缓存层，不可用时仍然存活，但不接收流量
	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", RedisHealthCheck(hc.redis))
	}
}

// LiveHandler 存活探针
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪探针
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部检查，返回每项结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(ctx); err != nil {
		hc.logger.Warn("store health check failed", zap.Error(err))
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if hc.redis == nil {
		results["redis"] = "NOT_CONFIGURED"
	} else if err := hc.redis.Ping(ctx).Err(); err != nil {
		hc.logger.Warn("redis health check failed", zap.Error(err))
		results["redis"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["redis"] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// StoreHealthCheck 存储健康检查
func StoreHealthCheck(store Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return store.Health(ctx)
	}
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(rdb redis.UniversalClient) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}
}
