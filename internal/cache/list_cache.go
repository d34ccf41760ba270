package cache

import (
	"context"
	"sync"
	"time"
)

// ListCache 列表视图缓存（Tier A）。
// 实现必须为每个用户维护一个键索引，使 InvalidateUser 无需扫描键空间。
type ListCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, user, key string, value []byte, ttl time.Duration) error
	// InvalidateUser 删除用户的全部列表缓存，返回删除数量
	InvalidateUser(ctx context.Context, user string) (int, error)
}

// MemoryListCache 进程内的 ListCache 实现，未配置 Redis 时使用
type MemoryListCache struct {
	mu      sync.Mutex
	entries map[string]listEntry
	byUser  map[string]map[string]struct{}
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type listEntry struct {
	user      string
	value     []byte
	expiresAt time.Time
}

// NewMemoryListCache 创建进程内列表缓存
func NewMemoryListCache() *MemoryListCache {
	c := &MemoryListCache{
		entries: make(map[string]listEntry),
		byUser:  make(map[string]map[string]struct{}),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop(time.Minute)
	return c
}

// Get 读取列表页
func (c *MemoryListCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.removeLocked(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set 写入列表页并登记到用户索引
func (c *MemoryListCache) Set(_ context.Context, user, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = listEntry{user: user, value: value, expiresAt: c.now().Add(ttl)}
	keys, ok := c.byUser[user]
	if !ok {
		keys = make(map[string]struct{})
		c.byUser[user] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// InvalidateUser 按用户索引删除全部列表页
func (c *MemoryListCache) InvalidateUser(_ context.Context, user string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.byUser[user] {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	delete(c.byUser, user)
	return removed, nil
}

// Len 当前条目数
func (c *MemoryListCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 停止后台清理
func (c *MemoryListCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryListCache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if keys, ok := c.byUser[entry.user]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byUser, entry.user)
		}
	}
}

func (c *MemoryListCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					c.removeLocked(key)
				}
			}
			c.mu.Unlock()
		}
	}
}
