package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/pool"
	"ditmail/backend/internal/storage/memory"
)

type captured struct {
	signature string
	event     string
	body      []byte
}

func TestWebhookDispatch(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var got []captured
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			signature: r.Header.Get("X-Webhook-Signature"),
			event:     r.Header.Get("X-Webhook-Event"),
			body:      body,
		})
		code := status
		mu.Unlock()
		w.WriteHeader(code)
	}))
	defer srv.Close()

	store := memory.NewStore()
	workers := pool.NewWorkerPool("webhook", 2, 16, zap.NewNop())
	workers.Start(ctx)
	defer workers.Stop()
	svc := NewWebhookService(store, workers, time.Second, zap.NewNop())

	created, err := svc.CreateWebhook(ctx, "u1", CreateWebhookInput{URL: srv.URL, Events: []string{"message.moved"}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Secret)

	t.Run("未知事件类型", func(t *testing.T) {
		_, err := svc.CreateWebhook(ctx, "u1", CreateWebhookInput{URL: srv.URL, Events: []string{"message.exploded"}})
		assert.Equal(t, domain.ReasonInvalidInput, reasonOf(err))
	})

	t.Run("只投递订阅的事件并签名", func(t *testing.T) {
		require.NoError(t, svc.Dispatch(ctx, domain.Event{ID: "e1", Type: domain.EventMessageUpdated, UserID: "u1"}))
		require.NoError(t, svc.Dispatch(ctx, domain.Event{ID: "e2", Type: domain.EventMessageMoved, UserID: "u1"}))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		c := got[0]
		mu.Unlock()
		assert.Equal(t, "message.moved", c.event)
		assert.Equal(t, generateSignature(c.body, created.Secret), c.signature)

		assert.Eventually(t, func() bool {
			deliveries, err := svc.GetDeliveries(ctx, "u1", created.ID, 10)
			return err == nil && len(deliveries) == 1 && deliveries[0].Success
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("失败投递记录重试时间", func(t *testing.T) {
		mu.Lock()
		status = http.StatusInternalServerError
		mu.Unlock()

		require.NoError(t, svc.Dispatch(ctx, domain.Event{ID: "e3", Type: domain.EventMessageMoved, UserID: "u1"}))
		assert.Eventually(t, func() bool {
			deliveries, err := svc.GetDeliveries(ctx, "u1", created.ID, 10)
			if err != nil || len(deliveries) != 2 {
				return false
			}
			d := deliveries[0]
			return !d.Success && d.StatusCode == http.StatusInternalServerError && d.NextRetry != nil
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("其他用户不能查看投递记录", func(t *testing.T) {
		_, err := svc.GetDeliveries(ctx, "u2", created.ID, 10)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestWebhookQueueFull(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	// 未启动且没有缓冲，任何提交都会失败
	workers := pool.NewWorkerPool("webhook", 1, 0, zap.NewNop())
	svc := NewWebhookService(store, workers, time.Second, zap.NewNop())

	_, err := svc.CreateWebhook(ctx, "u1", CreateWebhookInput{URL: "http://127.0.0.1:1/hook"})
	require.NoError(t, err)

	err = svc.Dispatch(ctx, domain.Event{ID: "e1", Type: domain.EventMessageReceived, UserID: "u1"})
	assert.True(t, errors.Is(err, ErrWebhookQueueFull))
}

func TestCalculateNextRetry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next := calculateNextRetry(now, 1)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(time.Minute), *next)

	next = calculateNextRetry(now, 5)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(6*time.Hour), *next)

	assert.Nil(t, calculateNextRetry(now, 6))
}

func TestMultiDispatcher(t *testing.T) {
	ok := &recordingDispatcher{}
	broken := &recordingDispatcher{err: errors.New("down")}
	d := NewMultiDispatcher(nil,
		NamedDispatcher{Name: "broken", Dispatcher: broken},
		NamedDispatcher{Name: "ok", Dispatcher: ok},
	)

	err := d.Dispatch(context.Background(), domain.Event{Type: domain.EventMessageUpdated})
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, broken.events, 1)
}
