package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/monitoring"
)

// EventDispatcher 变更事件的推送通道（WebSocket、Webhook）
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.Event) error
}

// NamedDispatcher 带名称的推送通道，用于指标
type NamedDispatcher struct {
	Name       string
	Dispatcher EventDispatcher
}

// MultiDispatcher 依次推送到所有通道，单个通道失败不影响其他通道
type MultiDispatcher struct {
	channels []NamedDispatcher
	metrics  *monitoring.Metrics
}

// NewMultiDispatcher 创建组合推送
func NewMultiDispatcher(metrics *monitoring.Metrics, channels ...NamedDispatcher) *MultiDispatcher {
	return &MultiDispatcher{channels: channels, metrics: metrics}
}

// Dispatch 推送事件，返回所有失败通道的合并错误
func (m *MultiDispatcher) Dispatch(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, ch := range m.channels {
		err := ch.Dispatcher.Dispatch(ctx, event)
		m.metrics.RecordDispatch(ch.Name, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// eventPublisher 各服务共享的事件发布逻辑。
// 推送失败只记录日志，不影响已提交的写入。
type eventPublisher struct {
	dispatcher EventDispatcher
	log        *zap.Logger
	now        func() time.Time
}

func (p eventPublisher) publish(ctx context.Context, userID string, typ domain.EventType, data interface{}) {
	if p.dispatcher == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Timestamp: p.now(),
		Data:      data,
	}
	if err := p.dispatcher.Dispatch(ctx, event); err != nil {
		p.log.Warn("event dispatch failed",
			zap.String("user", userID),
			zap.Error(&domain.DispatchError{Event: typ, Err: err}),
		)
	}
}

func messageEvent(m *domain.Message, from domain.Folder) domain.MessageEvent {
	ev := domain.MessageEvent{
		MessageID: m.ID,
		ThreadID:  m.ThreadID,
		Folder:    m.Folder,
		Read:      m.Read,
		Starred:   m.Starred,
	}
	if from != m.Folder {
		ev.FromFolder = from
	}
	return ev
}
