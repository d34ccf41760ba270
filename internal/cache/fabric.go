package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/monitoring"
)

// 缓存层级名称，用于日志与指标
const (
	TierList     = "list"     // Tier A
	TierResource = "resource" // Tier B
	TierBus      = "bus"
)

// TagPublisher 将标签失效广播给其他实例
type TagPublisher interface {
	PublishInvalidation(ctx context.Context, user string, tags []string) error
}

// Lookup 一次缓存读取的定位信息
type Lookup struct {
	User string
	Key  string
	Tags []string
	TTL  time.Duration // 0 表示使用层级默认值
}

// Invalidation 一次写入影响的缓存范围
type Invalidation struct {
	User      string
	Folders   []domain.Folder
	ThreadIDs []string
}

// Tags 该次失效涉及的 Tier B 标签
func (inv Invalidation) Tags() []string {
	tags := []string{CountsTag(inv.User), MailboxTag(inv.User)}
	seen := make(map[string]struct{}, len(inv.ThreadIDs))
	for _, id := range inv.ThreadIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		tags = append(tags, ThreadTag(id))
	}
	return tags
}

// Fabric 两级缓存的读写入口。
//
// 读取顺序：Tier B（资源缓存）、Tier A（列表缓存）、存储。
// 写入后的失效必须同时覆盖两级，任一级失败都不影响另一级。
type Fabric struct {
	lists       ListCache
	resources   *TagCache
	publisher   TagPublisher
	metrics     *monitoring.Metrics
	log         *zap.Logger
	listTTL     time.Duration
	resourceTTL time.Duration

	// 每个用户的失效代数。加载期间发生失效时，不回填缓存。
	genMu sync.Mutex
	gens  map[string]uint64
}

// Option Fabric 可选配置
type Option func(*Fabric)

// WithPublisher 启用跨实例标签广播
func WithPublisher(p TagPublisher) Option {
	return func(f *Fabric) { f.publisher = p }
}

// WithMetrics 启用指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(f *Fabric) { f.metrics = m }
}

// WithTTL 设置两级缓存的默认 TTL
func WithTTL(list, resource time.Duration) Option {
	return func(f *Fabric) {
		f.listTTL = list
		f.resourceTTL = resource
	}
}

// NewFabric 创建缓存入口
func NewFabric(lists ListCache, resources *TagCache, log *zap.Logger, opts ...Option) *Fabric {
	f := &Fabric{
		lists:       lists,
		resources:   resources,
		log:         log,
		listTTL:     time.Minute,
		resourceTTL: 5 * time.Minute,
		gens:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fabric) generation(user string) uint64 {
	f.genMu.Lock()
	defer f.genMu.Unlock()
	return f.gens[user]
}

func (f *Fabric) bump(user string) {
	f.genMu.Lock()
	f.gens[user]++
	f.genMu.Unlock()
}

// Load 按两级缓存读取，均未命中时调用 loader 并回填。
// 缓存故障只降级为未命中，不会导致读取失败。
func Load[T any](ctx context.Context, f *Fabric, l Lookup, loader func(context.Context) (T, error)) (T, error) {
	var out T

	if raw, ok := f.resources.Get(l.Key); ok {
		if err := json.Unmarshal(raw, &out); err == nil {
			f.metrics.RecordCacheLookup(TierResource, monitoring.ResultHit)
			return out, nil
		}
	}
	f.metrics.RecordCacheLookup(TierResource, monitoring.ResultMiss)

	raw, ok, err := f.lists.Get(ctx, l.Key)
	if err != nil {
		f.log.Warn("list cache read failed", zap.String("key", l.Key), zap.Error(err))
	}
	if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			f.metrics.RecordCacheLookup(TierList, monitoring.ResultHit)
			f.resources.Set(l.Key, raw, f.ttlFor(TierResource, l.TTL), l.Tags...)
			return cached, nil
		}
	}
	f.metrics.RecordCacheLookup(TierList, monitoring.ResultMiss)

	gen := f.generation(l.User)
	out, err = loader(ctx)
	if err != nil {
		return out, err
	}

	raw, err = json.Marshal(out)
	if err != nil {
		f.log.Warn("cache encode failed", zap.String("key", l.Key), zap.Error(err))
		return out, nil
	}
	if f.generation(l.User) != gen {
		// 加载期间发生了失效，结果可能已过期
		return out, nil
	}
	if err := f.lists.Set(ctx, l.User, l.Key, raw, f.ttlFor(TierList, l.TTL)); err != nil {
		f.log.Warn("list cache write failed", zap.String("key", l.Key), zap.Error(err))
	}
	f.resources.Set(l.Key, raw, f.ttlFor(TierResource, l.TTL), l.Tags...)
	return out, nil
}

func (f *Fabric) ttlFor(tier string, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if tier == TierList {
		return f.listTTL
	}
	return f.resourceTTL
}

// Invalidate 使一次写入影响的两级缓存失效。
// 两级都会尝试；返回的错误为 *domain.CacheInvalidationError，调用方只记录不上抛。
func (f *Fabric) Invalidate(ctx context.Context, inv Invalidation) error {
	f.bump(inv.User)

	var errs []error
	var tiers []string

	removed, err := f.lists.InvalidateUser(ctx, inv.User)
	f.metrics.RecordInvalidation(TierList, err)
	if err != nil {
		errs = append(errs, err)
		tiers = append(tiers, TierList)
	}

	tags := inv.Tags()
	dropped := f.resources.InvalidateTags(tags...)
	f.metrics.RecordInvalidation(TierResource, nil)

	if f.publisher != nil {
		err := f.publisher.PublishInvalidation(ctx, inv.User, tags)
		f.metrics.RecordInvalidation(TierBus, err)
		if err != nil {
			errs = append(errs, err)
			tiers = append(tiers, TierBus)
		}
	}

	f.log.Debug("cache invalidated",
		zap.String("user", inv.User),
		zap.Any("folders", inv.Folders),
		zap.Strings("tags", tags),
		zap.Int("list_removed", removed),
		zap.Int("resource_removed", dropped),
	)

	if len(errs) > 0 {
		return &domain.CacheInvalidationError{Tier: strings.Join(tiers, ","), Err: errors.Join(errs...)}
	}
	return nil
}

// InvalidateUser 使用户的全部列表页、计数与列表标签失效
func (f *Fabric) InvalidateUser(ctx context.Context, user string) error {
	return f.Invalidate(ctx, Invalidation{User: user})
}

// ApplyRemote 应用其他实例广播的标签失效
func (f *Fabric) ApplyRemote(user string, tags []string) {
	if user != "" {
		f.bump(user)
	}
	n := f.resources.InvalidateTags(tags...)
	f.log.Debug("remote invalidation applied", zap.String("user", user), zap.Int("removed", n))
}
