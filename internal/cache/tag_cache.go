package cache

import (
	"sync"
	"time"
)

// TagCache 进程内资源缓存（Tier B）
//
// 特点：
// - 页面按键存取，同时按标签建立索引
// - 失效按标签进行：一个标签对应的全部页面同时删除
// - 支持 TTL 过期与容量上限（满时淘汰最早过期的条目）
// - 后台定期清理过期条目
type TagCache struct {
	mu         sync.RWMutex
	entries    map[string]*tagEntry
	byTag      map[string]map[string]struct{} // tag -> keys
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type tagEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// NewTagCache 创建资源缓存
//
// 参数:
//   - maxEntries: 最大缓存条目数
//   - ttl: 默认过期时间
func NewTagCache(maxEntries int, ttl time.Duration) *TagCache {
	c := &TagCache{
		entries:    make(map[string]*tagEntry),
		byTag:      make(map[string]map[string]struct{}),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop(time.Minute)

	return c
}

// Get 获取缓存页面
func (c *TagCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current == entry {
			c.removeLocked(key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set 写入页面并关联标签，ttl 为 0 时使用默认值
func (c *TagCache) Set(key string, value []byte, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	} else if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	c.entries[key] = &tagEntry{
		value:     value,
		tags:      append([]string(nil), tags...),
		expiresAt: c.now().Add(ttl),
	}
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateTags 删除带有任一标签的全部页面，返回删除数量
func (c *TagCache) InvalidateTags(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range c.byTag[tag] {
			if c.removeLocked(key) {
				removed++
			}
		}
		delete(c.byTag, tag)
	}
	return removed
}

// Len 当前条目数
func (c *TagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close 停止后台清理
func (c *TagCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TagCache) removeLocked(key string) bool {
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	for _, tag := range entry.tags {
		if keys, ok := c.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
	return true
}

// evictLocked 淘汰最早过期的条目
func (c *TagCache) evictLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	if oldestKey != "" {
		c.removeLocked(oldestKey)
	}
}

func (c *TagCache) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
		}
	}
}

// cleanupLoop 定期清理过期条目
func (c *TagCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}
