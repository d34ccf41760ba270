package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/pool"
)

// ErrWebhookQueueFull 投递队列已满，事件被丢弃
var ErrWebhookQueueFull = errors.New("webhook queue full")

// maxDeliveryAttempts 单次投递的最大尝试次数
const maxDeliveryAttempts = 5

// WebhookService Webhook 服务
type WebhookService struct {
	store      domain.WebhookRepository
	httpClient *http.Client
	workers    *pool.WorkerPool
	log        *zap.Logger
	now        func() time.Time
}

// NewWebhookService 创建 Webhook 服务，投递在 workers 中异步执行
func NewWebhookService(store domain.WebhookRepository, workers *pool.WorkerPool, timeout time.Duration, log *zap.Logger) *WebhookService {
	return &WebhookService{
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		workers:    workers,
		log:        log,
		now:        time.Now,
	}
}

// CreateWebhookInput 创建 Webhook 输入
type CreateWebhookInput struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events"`
}

// UpdateWebhookInput 更新 Webhook 输入
type UpdateWebhookInput struct {
	URL      string   `json:"url" binding:"omitempty,url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"isActive"`
}

// CreatedWebhook 创建结果，签名密钥只在创建时返回一次
type CreatedWebhook struct {
	*domain.Webhook
	Secret string `json:"secret"`
}

// CreateWebhook 创建 Webhook
func (s *WebhookService) CreateWebhook(ctx context.Context, userID string, input CreateWebhookInput) (*CreatedWebhook, error) {
	if err := validateEvents(input.Events); err != nil {
		return nil, err
	}

	webhook := &domain.Webhook{
		ID:       uuid.NewString(),
		UserID:   userID,
		URL:      input.URL,
		Events:   input.Events,
		Secret:   generateSecret(),
		IsActive: true,
	}
	if err := s.store.CreateWebhook(ctx, webhook); err != nil {
		return nil, &domain.StoreWriteError{Op: "create webhook", Err: err}
	}
	return &CreatedWebhook{Webhook: webhook, Secret: webhook.Secret}, nil
}

// ListWebhooks 列出用户的 Webhooks
func (s *WebhookService) ListWebhooks(ctx context.Context, userID string) ([]domain.Webhook, error) {
	return s.store.ListWebhooks(ctx, userID)
}

// UpdateWebhook 更新 Webhook
func (s *WebhookService) UpdateWebhook(ctx context.Context, userID, id string, input UpdateWebhookInput) (*domain.Webhook, error) {
	webhook, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := validateEvents(input.Events); err != nil {
		return nil, err
	}

	if input.URL != "" {
		webhook.URL = input.URL
	}
	if input.Events != nil {
		webhook.Events = input.Events
	}
	if input.IsActive != nil {
		webhook.IsActive = *input.IsActive
	}

	if err := s.store.UpdateWebhook(ctx, webhook); err != nil {
		return nil, &domain.StoreWriteError{Op: "update webhook", Err: err}
	}
	return webhook, nil
}

// DeleteWebhook 删除 Webhook
func (s *WebhookService) DeleteWebhook(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteWebhook(ctx, id)
}

// GetDeliveries 获取投递记录
func (s *WebhookService) GetDeliveries(ctx context.Context, userID, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	if _, err := s.owned(ctx, userID, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.GetDeliveries(ctx, webhookID, limit)
}

// owned 读取 Webhook 并校验归属，其他用户的 Webhook 按不存在处理
func (s *WebhookService) owned(ctx context.Context, userID, id string) (*domain.Webhook, error) {
	webhook, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if webhook.UserID != userID {
		return nil, domain.ErrWebhookNotFound
	}
	return webhook, nil
}

// Dispatch 将事件排入订阅了该事件的 Webhook 投递队列，不等待投递完成
func (s *WebhookService) Dispatch(ctx context.Context, event domain.Event) error {
	webhooks, err := s.store.ListWebhooks(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	dropped := 0
	for i := range webhooks {
		webhook := webhooks[i]
		if !webhook.IsActive || !webhook.Subscribes(event.Type) {
			continue
		}
		delivery := &domain.WebhookDelivery{
			ID:        uuid.NewString(),
			WebhookID: webhook.ID,
			Event:     event.Type,
			Payload:   string(payload),
			Attempts:  1,
		}
		if !s.workers.TrySubmit(func() { s.deliver(context.Background(), &webhook, delivery) }) {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d deliveries dropped", ErrWebhookQueueFull, dropped)
	}
	return nil
}

// deliver 投递 Webhook 并记录结果
func (s *WebhookService) deliver(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) {
	payload := []byte(delivery.Payload)
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("failed to create request: %v", err)
		s.record(ctx, delivery)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", generateSignature(payload, webhook.Secret))
	req.Header.Set("X-Webhook-Event", string(delivery.Event))
	req.Header.Set("X-Webhook-ID", delivery.ID)

	resp, err := s.httpClient.Do(req)
	delivery.Duration = time.Since(startTime).Milliseconds()
	if err != nil {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("failed to send request: %v", err)
		delivery.NextRetry = s.nextRetry(delivery.Attempts)
		s.record(ctx, delivery)
		return
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	delivery.Response = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Success = true
		delivery.Error = ""
		delivery.NextRetry = nil
	} else {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, delivery.Response)
		delivery.NextRetry = s.nextRetry(delivery.Attempts)
	}
	s.record(ctx, delivery)
}

func (s *WebhookService) record(ctx context.Context, delivery *domain.WebhookDelivery) {
	if !delivery.Success {
		s.log.Warn("webhook delivery failed",
			zap.String("webhook", delivery.WebhookID),
			zap.String("delivery", delivery.ID),
			zap.Int("attempts", delivery.Attempts),
			zap.String("error", delivery.Error),
		)
	}
	if err := s.store.RecordDelivery(ctx, delivery); err != nil {
		s.log.Error("failed to record webhook delivery", zap.String("delivery", delivery.ID), zap.Error(err))
	}
}

// RetryFailedDeliveries 重试到期的失败投递，返回排入队列的数量
func (s *WebhookService) RetryFailedDeliveries(ctx context.Context) (int, error) {
	deliveries, err := s.store.GetPendingDeliveries(ctx, 50)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range deliveries {
		delivery := deliveries[i]
		webhook, err := s.store.GetWebhook(ctx, delivery.WebhookID)
		if err != nil || !webhook.IsActive {
			// Webhook 已删除或停用，不再重试
			delivery.NextRetry = nil
			s.record(ctx, &delivery)
			continue
		}

		delivery.Attempts++
		delivery.NextRetry = nil
		if !s.workers.TrySubmit(func() { s.deliver(context.Background(), webhook, &delivery) }) {
			break
		}
		queued++
	}
	return queued, nil
}

// RunRetryLoop 定期重试失败投递，直到 ctx 结束
func (s *WebhookService) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RetryFailedDeliveries(ctx)
			if err != nil {
				s.log.Error("webhook retry failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("webhook deliveries requeued", zap.Int("count", n))
			}
		}
	}
}

// nextRetry 计算下次重试时间（指数退避），超过最大次数返回 nil
func (s *WebhookService) nextRetry(attempts int) *time.Time {
	if attempts >= maxDeliveryAttempts {
		return nil
	}
	return calculateNextRetry(s.now(), attempts)
}

// calculateNextRetry 重试间隔：1分钟、5分钟、15分钟、1小时、6小时
func calculateNextRetry(now time.Time, attempts int) *time.Time {
	intervals := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		1 * time.Hour,
		6 * time.Hour,
	}

	index := attempts - 1
	if index < 0 || index >= len(intervals) {
		return nil
	}
	next := now.Add(intervals[index])
	return &next
}

func validateEvents(events []string) error {
	for _, e := range events {
		if e != "*" && !domain.IsKnownEvent(e) {
			return domain.NewValidationError(domain.ReasonInvalidInput, "unknown event "+e)
		}
	}
	return nil
}

// generateSecret 生成 Webhook 密钥
func generateSecret() string {
	return uuid.NewString()
}

// generateSignature 生成 HMAC-SHA256 签名
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
