package memory

import (
	"context"
	"sort"

	"ditmail/backend/internal/domain"
)

// CreateWebhook 创建 Webhook
func (s *Store) CreateWebhook(_ context.Context, webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[webhook.ID]; exists {
		return domain.ErrDuplicate
	}

	now := s.now()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now
	cp := *webhook
	s.webhooks[webhook.ID] = &cp
	return nil
}

// GetWebhook 获取 Webhook
func (s *Store) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	webhook, exists := s.webhooks[id]
	if !exists {
		return nil, domain.ErrWebhookNotFound
	}
	cp := *webhook
	return &cp, nil
}

// ListWebhooks 列出用户的 Webhooks（按创建时间）
func (s *Store) ListWebhooks(_ context.Context, userID string) ([]domain.Webhook, error) {
	s.mu.RLock()
	result := make([]domain.Webhook, 0)
	for _, w := range s.webhooks {
		if w.UserID == userID {
			result = append(result, *w)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpdateWebhook 更新 Webhook
func (s *Store) UpdateWebhook(_ context.Context, webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[webhook.ID]; !exists {
		return domain.ErrWebhookNotFound
	}
	webhook.UpdatedAt = s.now()
	cp := *webhook
	s.webhooks[webhook.ID] = &cp
	return nil
}

// DeleteWebhook 删除 Webhook 及其投递记录
func (s *Store) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[id]; !exists {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	delete(s.deliveries, id)
	return nil
}

// RecordDelivery 记录（或更新）一次投递
func (s *Store) RecordDelivery(_ context.Context, delivery *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = s.now()
	}
	cp := *delivery
	list := s.deliveries[delivery.WebhookID]
	for i, d := range list {
		if d.ID == delivery.ID {
			list[i] = &cp
			return nil
		}
	}
	s.deliveries[delivery.WebhookID] = append(list, &cp)
	return nil
}

// GetDeliveries 获取最近的投递记录（新的在前）
func (s *Store) GetDeliveries(_ context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.deliveries[webhookID]
	result := make([]domain.WebhookDelivery, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, *list[i])
	}
	return result, nil
}

// GetPendingDeliveries 获取已到重试时间的失败投递
func (s *Store) GetPendingDeliveries(_ context.Context, limit int) ([]domain.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make([]domain.WebhookDelivery, 0)
	for _, list := range s.deliveries {
		for _, d := range list {
			if d.Success || d.NextRetry == nil || d.NextRetry.After(now) {
				continue
			}
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NextRetry.Before(*result[j].NextRetry) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
