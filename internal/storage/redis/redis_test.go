package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ditmail/backend/internal/config"
)

// newTestClient 需要设置 DITMAIL_TEST_REDIS_ADDR，否则跳过
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("DITMAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DITMAIL_TEST_REDIS_ADDR not set")
	}
	c, err := New(config.RedisConfig{Address: addr}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestListCache(t *testing.T) {
	c := newTestClient(t)
	lists := NewListCache(c)
	ctx := context.Background()
	user := uuid.NewString()

	require.NoError(t, lists.Set(ctx, user, "list:"+user+":inbox", []byte("a"), time.Minute))
	require.NoError(t, lists.Set(ctx, user, "list:"+user+":archive", []byte("b"), time.Minute))

	data, ok, err := lists.Get(ctx, "list:"+user+":inbox")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)

	n, err := lists.InvalidateUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = lists.Get(ctx, "list:"+user+":inbox")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTagBus(t *testing.T) {
	c := newTestClient(t)
	channel := "test:" + uuid.NewString()
	a := NewTagBus(c, channel, zap.NewNop())
	b := NewTagBus(c, channel, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got [][]string
	go b.Subscribe(ctx, func(user string, tags []string) {
		mu.Lock()
		got = append(got, append([]string{user}, tags...))
		mu.Unlock()
	})
	// a 自己发出的消息不应回到 a
	go a.Subscribe(ctx, func(string, []string) { t.Error("received own message") })
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, a.PublishInvalidation(ctx, "u1", []string{"thread:T1"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0][0] == "u1" && got[0][1] == "thread:T1"
	}, 2*time.Second, 20*time.Millisecond)
}
