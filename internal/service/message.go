package service

import (
	"context"
	"errors"
	"fmt"

	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/domain"
)

// MessageService 邮件读取，列表与会话走两级缓存。写入统一由 MutationCoordinator 处理。
type MessageService struct {
	store  domain.MessageRepository
	fabric *cache.Fabric
}

// NewMessageService 创建邮件读取服务
func NewMessageService(store domain.MessageRepository, fabric *cache.Fabric) *MessageService {
	return &MessageService{store: store, fabric: fabric}
}

// List 分页列出邮件
func (s *MessageService) List(ctx context.Context, userID string, q domain.MessageQuery) (*domain.MessagePage, error) {
	q = q.Normalize()
	if q.Folder != "" {
		f, err := domain.ParseFolder(string(q.Folder))
		if err != nil {
			return nil, err
		}
		q.Folder = f
	}

	lookup := cache.Lookup{
		User: userID,
		Key:  cache.ListKey(userID, q),
		Tags: []string{cache.MailboxTag(userID)},
	}
	return cache.Load(ctx, s.fabric, lookup, func(ctx context.Context) (*domain.MessagePage, error) {
		return s.store.ListMessages(ctx, userID, q)
	})
}

// Get 读取单封邮件。其他用户的邮件按不存在处理。
func (s *MessageService) Get(ctx context.Context, userID, id string) (*domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	if msg.UserID != userID {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

// Thread 会话内的全部邮件，按时间升序
func (s *MessageService) Thread(ctx context.Context, userID, threadID string) ([]domain.Message, error) {
	lookup := cache.Lookup{
		User: userID,
		Key:  cache.ThreadKey(userID, threadID),
		Tags: []string{cache.ThreadTag(threadID)},
	}
	return cache.Load(ctx, s.fabric, lookup, func(ctx context.Context) ([]domain.Message, error) {
		msgs, err := s.store.ListThread(ctx, userID, threadID)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, domain.ErrThreadNotFound
		}
		return msgs, nil
	})
}
