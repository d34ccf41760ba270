package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ditmail/backend/internal/domain"
)

// ========== Webhook Repository ==========

// CreateWebhook 创建 Webhook
func (s *Store) CreateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	return s.db.WithContext(ctx).Create(webhook).Error
}

// GetWebhook 获取 Webhook
func (s *Store) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	var webhook domain.Webhook
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&webhook).Error; err != nil {
		return nil, mapError(err, domain.ErrWebhookNotFound)
	}
	return &webhook, nil
}

// ListWebhooks 列出用户的 Webhooks
func (s *Store) ListWebhooks(ctx context.Context, userID string) ([]domain.Webhook, error) {
	webhooks := make([]domain.Webhook, 0)
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&webhooks).Error; err != nil {
		return nil, err
	}
	return webhooks, nil
}

// UpdateWebhook 更新 Webhook
func (s *Store) UpdateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	return s.db.WithContext(ctx).Save(webhook).Error
}

// DeleteWebhook 删除 Webhook 及其投递记录
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webhook_id = ?", id).Delete(&domain.WebhookDelivery{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Webhook{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrWebhookNotFound
		}
		return nil
	})
}

// RecordDelivery 记录投递，重试时按 ID 覆盖
func (s *Store) RecordDelivery(ctx context.Context, delivery *domain.WebhookDelivery) error {
	return s.db.WithContext(ctx).Save(delivery).Error
}

// GetDeliveries 获取投递记录
func (s *Store) GetDeliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	deliveries := make([]domain.WebhookDelivery, 0)
	if err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

// GetPendingDeliveries 获取到期待重试的投递
func (s *Store) GetPendingDeliveries(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	deliveries := make([]domain.WebhookDelivery, 0)
	if err := s.db.WithContext(ctx).
		Where("success = ? AND next_retry IS NOT NULL AND next_retry <= ?", false, time.Now().UTC()).
		Order("next_retry ASC").
		Limit(limit).
		Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}
