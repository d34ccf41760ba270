package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool("test", 4, 16, zap.NewNop())
		p.Start(context.Background())

		var n int32
		for i := 0; i < 10; i++ {
			assert.True(t, p.Submit(context.Background(), func() { atomic.AddInt32(&n, 1) }))
		}
		p.Stop()
		assert.Equal(t, int32(10), atomic.LoadInt32(&n))
	})

	t.Run("panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 4, zap.NewNop())
		p.Start(context.Background())

		var n int32
		p.TrySubmit(func() { panic("boom") })
		p.TrySubmit(func() { atomic.AddInt32(&n, 1) })
		p.Stop()
		assert.Equal(t, int32(1), atomic.LoadInt32(&n))
	})

	t.Run("队列满时 TrySubmit 返回 false", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 1, zap.NewNop())
		// 未启动工作协程，队列只能容纳一个任务
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
		assert.Equal(t, 1, p.Pending())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.False(t, p.Submit(ctx, func() {}))
	})

	t.Run("停止后拒绝任务且可重复停止", func(t *testing.T) {
		p := NewWorkerPool("test", 1, 1, zap.NewNop())
		p.Start(context.Background())
		p.Stop()
		p.Stop()
		assert.False(t, p.TrySubmit(func() {}))
		assert.False(t, p.Submit(context.Background(), func() {}))
	})
}
