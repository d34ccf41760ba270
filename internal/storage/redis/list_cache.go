package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ListCache 基于 Redis 的列表视图缓存（Tier A）
//
// 键格式：
//   - list:{user}:{folder-or-query}  列表页
//   - idx:{user}                     用户的键索引（SET）
//
// 写入时 SET 与 SADD 在同一事务中执行；失效时只移除读取到的成员，
// 并发写入的新键会保留在索引中，不会被遗漏。
type ListCache struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewListCache 创建列表缓存
func NewListCache(c *Client) *ListCache {
	return &ListCache{rdb: c.rdb, prefix: "list:"}
}

func (c *ListCache) dataKey(key string) string {
	return c.prefix + key
}

func indexKey(user string) string {
	return "idx:" + user
}

// Get 读取列表页
func (c *ListCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, c.dataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, true, nil
}

// Set 写入列表页并登记到用户索引。索引的过期时间随最近一次写入延长。
func (c *ListCache) Set(ctx context.Context, user, key string, value []byte, ttl time.Duration) error {
	idx := indexKey(user)
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, c.dataKey(key), value, ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, ttl+time.Minute)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// InvalidateUser 删除用户的全部列表页
func (c *ListCache) InvalidateUser(ctx context.Context, user string) (int, error) {
	idx := indexKey(user)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("read index %s: %w", idx, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	dataKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		dataKeys[i] = c.dataKey(k)
		members[i] = k
	}

	var del *goredis.IntCmd
	_, err = c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, dataKeys...)
		pipe.SRem(ctx, idx, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", user, err)
	}
	return int(del.Val()), nil
}
