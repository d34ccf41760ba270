package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ditmail/backend/internal/domain"
)

type fakeMutator struct {
	bulk  func(req domain.BulkRequest) (*domain.BulkResult, error)
	patch func(id string) error
}

func (f *fakeMutator) BulkUpdate(_ context.Context, req domain.BulkRequest) (*domain.BulkResult, error) {
	return f.bulk(req)
}

func (f *fakeMutator) PatchMessage(_ context.Context, id string, _ domain.MessagePatch) (*domain.Message, error) {
	if err := f.patch(id); err != nil {
		return nil, err
	}
	return &domain.Message{ID: id, Read: true}, nil
}

type recorder struct {
	mu     sync.Mutex
	toasts []string
	left   [][]string
}

func (r *recorder) Toast(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, msg)
}

func (r *recorder) LeaveMessages(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, ids)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.toasts...)
}

func inbox(ids ...string) []domain.Message {
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Message{ID: id, Folder: domain.FolderInbox})
	}
	return out
}

func ids(list []domain.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

var errStoreWrite = &APIError{Status: 500, Reason: domain.ReasonStoreWrite}

func TestTransitions(t *testing.T) {
	assert.Equal(t, OptimisticRead, Next(Confirmed, ActionMarkRead))
	assert.Equal(t, OptimisticPendingRemoval, Next(Confirmed, ActionRemove))
	assert.Equal(t, OptimisticPendingRemoval, Next(OptimisticRead, ActionRemove))
	assert.Equal(t, OptimisticPendingRemoval, Next(OptimisticPendingRemoval, ActionMarkRead))
	assert.Equal(t, "optimistic_read", OptimisticRead.String())
}

func TestOverlayMarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("立即显示已读，刷新后丢弃", func(t *testing.T) {
		var o *Overlay
		api := &fakeMutator{patch: func(id string) error {
			shown := o.Apply(domain.FolderInbox, inbox(id))
			assert.True(t, shown[0].Read)
			return nil
		}}
		o = NewOverlay(api, nil, nil, nil)

		require.NoError(t, o.MarkRead(ctx, "m1"))
		assert.Equal(t, OptimisticRead, o.State("m1"))

		fresh := inbox("m1")
		fresh[0].Read = true
		o.Reconcile(domain.FolderInbox, fresh)
		assert.Equal(t, Confirmed, o.State("m1"))
		assert.Equal(t, 0, o.Len())
	})

	t.Run("确认后以服务端列表为准", func(t *testing.T) {
		api := &fakeMutator{patch: func(string) error { return nil }}
		o := NewOverlay(api, nil, nil, nil)

		require.NoError(t, o.MarkRead(ctx, "m1"))
		o.Reconcile(domain.FolderInbox, inbox("m1"))
		assert.Equal(t, Confirmed, o.State("m1"))
		assert.False(t, o.Apply(domain.FolderInbox, inbox("m1"))[0].Read)
	})

	t.Run("失败回滚并提示", func(t *testing.T) {
		rec := &recorder{}
		api := &fakeMutator{patch: func(string) error { return errStoreWrite }}
		o := NewOverlay(api, rec, rec, nil)

		err := o.MarkRead(ctx, "m1")
		assert.Error(t, err)
		assert.Equal(t, Confirmed, o.State("m1"))
		assert.False(t, o.Apply(domain.FolderInbox, inbox("m1"))[0].Read)
		assert.Len(t, rec.messages(), 1)
	})

	t.Run("邮件已不存在不算失败", func(t *testing.T) {
		rec := &recorder{}
		api := &fakeMutator{patch: func(string) error { return &APIError{Status: 404} }}
		o := NewOverlay(api, rec, nil, nil)

		require.NoError(t, o.MarkRead(ctx, "m1"))
		assert.Empty(t, rec.messages())
	})
}

func TestOverlayRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("部分失败", func(t *testing.T) {
		rec := &recorder{}
		var o *Overlay
		api := &fakeMutator{bulk: func(req domain.BulkRequest) (*domain.BulkResult, error) {
			assert.Equal(t, "spam", req.Action)
			assert.Equal(t, domain.FolderInbox, req.CurrentFolder)
			// 请求发出时两封邮件都已隐藏
			assert.Empty(t, o.Apply(domain.FolderInbox, inbox("M1", "M2")))
			return &domain.BulkResult{
				Updated: []string{"M1"},
				Failed:  []domain.BulkFailure{{ID: "M2", Reason: domain.ReasonStoreWrite}},
			}, nil
		}}
		o = NewOverlay(api, rec, rec, nil)

		result, err := o.Remove(ctx, domain.BulkSpam, domain.FolderInbox, []string{"M1", "M2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"M1"}, result.Updated)

		assert.Equal(t, OptimisticPendingRemoval, o.State("M1"))
		assert.Equal(t, Confirmed, o.State("M2"))
		assert.Equal(t, []string{"M2"}, ids(o.Apply(domain.FolderInbox, inbox("M1", "M2"))))
		assert.Equal(t, []string{"1 of 2 updated"}, rec.messages())
		assert.Equal(t, [][]string{{"M1", "M2"}}, rec.left)

		o.Reconcile(domain.FolderInbox, inbox("M2"))
		assert.Equal(t, 0, o.Len())
	})

	t.Run("请求失败全部恢复", func(t *testing.T) {
		rec := &recorder{}
		api := &fakeMutator{bulk: func(domain.BulkRequest) (*domain.BulkResult, error) {
			return nil, errors.New("connection reset")
		}}
		o := NewOverlay(api, rec, nil, nil)

		_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1", "M2", "M3"})
		assert.Error(t, err)
		assert.Equal(t, 0, o.Len())
		assert.Equal(t, []string{"M1", "M2", "M3"}, ids(o.Apply(domain.FolderInbox, inbox("M1", "M2", "M3"))))
		assert.Len(t, rec.messages(), 1)
	})

	t.Run("已删除的邮件视为完成", func(t *testing.T) {
		rec := &recorder{}
		api := &fakeMutator{bulk: func(domain.BulkRequest) (*domain.BulkResult, error) {
			return &domain.BulkResult{Failed: []domain.BulkFailure{{ID: "M1", Reason: domain.ReasonNotFound}}}, nil
		}}
		o := NewOverlay(api, rec, nil, nil)

		_, err := o.Remove(ctx, domain.BulkDelete, domain.FolderTrash, []string{"M1"})
		require.NoError(t, err)
		assert.Equal(t, OptimisticPendingRemoval, o.State("M1"))
		assert.Empty(t, rec.messages())
	})

	t.Run("非移除类操作", func(t *testing.T) {
		o := NewOverlay(&fakeMutator{}, nil, nil, nil)
		_, err := o.Remove(ctx, domain.BulkStar, domain.FolderInbox, []string{"M1"})
		assert.Error(t, err)
	})

	t.Run("其他文件夹的列表不影响", func(t *testing.T) {
		api := &fakeMutator{bulk: func(req domain.BulkRequest) (*domain.BulkResult, error) {
			return &domain.BulkResult{Updated: req.MessageIDs}, nil
		}}
		o := NewOverlay(api, nil, nil, nil)
		_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1"})
		require.NoError(t, err)

		o.Reconcile(domain.FolderSpam, nil)
		assert.Equal(t, OptimisticPendingRemoval, o.State("M1"))
	})

	t.Run("只在原文件夹中隐藏", func(t *testing.T) {
		api := &fakeMutator{bulk: func(req domain.BulkRequest) (*domain.BulkResult, error) {
			return &domain.BulkResult{Updated: req.MessageIDs}, nil
		}}
		o := NewOverlay(api, nil, nil, nil)
		_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1"})
		require.NoError(t, err)

		archived := []domain.Message{{ID: "M1", Folder: domain.FolderArchive}}
		assert.Empty(t, o.Apply(domain.FolderInbox, inbox("M1")))
		assert.Equal(t, []string{"M1"}, ids(o.Apply(domain.FolderArchive, archived)))

		// 出现在目标文件夹的列表中，说明移动已经生效
		o.Reconcile(domain.FolderArchive, archived)
		assert.Equal(t, Confirmed, o.State("M1"))
		assert.Equal(t, 0, o.Len())
	})
}

func TestOverlayDoubleFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("两次标记已读都失败", func(t *testing.T) {
		rec := &recorder{}
		started := make(chan struct{})
		release := make(chan struct{})
		calls := 0
		var mu sync.Mutex
		api := &fakeMutator{patch: func(string) error {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			return errStoreWrite
		}}
		o := NewOverlay(api, rec, nil, nil)

		done := make(chan error, 1)
		go func() { done <- o.MarkRead(ctx, "m1") }()
		<-started

		assert.Error(t, o.MarkRead(ctx, "m1"))
		// 第一次请求仍在等待，继续显示为已读
		assert.Equal(t, OptimisticRead, o.State("m1"))

		close(release)
		assert.Error(t, <-done)

		assert.Equal(t, Confirmed, o.State("m1"))
		o.Reconcile(domain.FolderInbox, inbox("m1"))
		assert.False(t, o.Apply(domain.FolderInbox, inbox("m1"))[0].Read)
		assert.Equal(t, 0, o.Len())
		assert.Len(t, rec.messages(), 1)
	})

	t.Run("两次移除都失败", func(t *testing.T) {
		rec := &recorder{}
		started := make(chan struct{})
		release := make(chan struct{})
		calls := 0
		var mu sync.Mutex
		api := &fakeMutator{bulk: func(domain.BulkRequest) (*domain.BulkResult, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			return nil, errStoreWrite
		}}
		o := NewOverlay(api, rec, nil, nil)

		done := make(chan error, 1)
		go func() {
			_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1"})
			done <- err
		}()
		<-started

		_, err := o.Remove(ctx, domain.BulkSpam, domain.FolderInbox, []string{"M1"})
		assert.Error(t, err)
		assert.Empty(t, o.Apply(domain.FolderInbox, inbox("M1")))

		close(release)
		assert.Error(t, <-done)

		assert.Equal(t, Confirmed, o.State("M1"))
		assert.Equal(t, []string{"M1"}, ids(o.Apply(domain.FolderInbox, inbox("M1"))))
		assert.Len(t, rec.messages(), 1)
	})

	t.Run("较早的操作成功后较新的失败", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		api := &fakeMutator{
			patch: func(string) error {
				close(started)
				<-release
				return nil
			},
			bulk: func(domain.BulkRequest) (*domain.BulkResult, error) {
				return nil, errStoreWrite
			},
		}
		o := NewOverlay(api, nil, nil, nil)

		done := make(chan error, 1)
		go func() { done <- o.MarkRead(ctx, "M1") }()
		<-started

		_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1"})
		assert.Error(t, err)
		// 移除被撤销，已读仍在等待
		assert.Equal(t, OptimisticRead, o.State("M1"))

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, OptimisticRead, o.State("M1"))
		assert.True(t, o.Apply(domain.FolderInbox, inbox("M1"))[0].Read)
	})
}

func TestOverlayStaleResponse(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}

	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeMutator{
		patch: func(string) error {
			close(started)
			<-release
			return errStoreWrite
		},
		bulk: func(req domain.BulkRequest) (*domain.BulkResult, error) {
			return &domain.BulkResult{Updated: req.MessageIDs}, nil
		},
	}
	o := NewOverlay(api, rec, nil, nil)

	done := make(chan error, 1)
	go func() { done <- o.MarkRead(ctx, "M1") }()
	<-started

	// 第二个操作在第一个响应之前发出
	_, err := o.Remove(ctx, domain.BulkArchive, domain.FolderInbox, []string{"M1"})
	require.NoError(t, err)

	close(release)
	assert.Error(t, <-done)

	// 过期的失败响应不能撤销更新的乐观状态
	assert.Equal(t, OptimisticPendingRemoval, o.State("M1"))
	assert.Empty(t, rec.messages())
}

func TestOverlayClose(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}

	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeMutator{patch: func(string) error {
		close(started)
		<-release
		return errStoreWrite
	}}
	o := NewOverlay(api, rec, nil, nil)

	done := make(chan error, 1)
	go func() { done <- o.MarkRead(ctx, "M1") }()
	<-started

	o.Close()
	close(release)
	<-done

	assert.Empty(t, rec.messages())
	assert.Equal(t, 0, o.Len())
	assert.ErrorIs(t, o.MarkRead(ctx, "M2"), ErrOverlayClosed)
}

func TestOverlaySettledTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeMutator{bulk: func(req domain.BulkRequest) (*domain.BulkResult, error) {
		return &domain.BulkResult{Updated: req.MessageIDs}, nil
	}}
	o := NewOverlay(api, nil, nil, nil,
		WithSettledTTL(time.Minute),
		WithClock(func() time.Time { return now }))

	_, err := o.Remove(context.Background(), domain.BulkArchive, domain.FolderInbox, []string{"M1"})
	require.NoError(t, err)

	// 列表一直是旧数据时，超时后也要丢弃
	o.Reconcile(domain.FolderInbox, inbox("M1"))
	assert.Equal(t, 1, o.Len())

	now = now.Add(2 * time.Minute)
	o.Reconcile(domain.FolderInbox, inbox("M1"))
	assert.Equal(t, 0, o.Len())
}
