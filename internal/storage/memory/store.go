package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ditmail/backend/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store 使用内存保存邮箱数据，用于开发环境与测试。
// 所有读取都返回副本，调用方修改返回值不会影响存储内容。
type Store struct {
	mu sync.RWMutex

	messages      map[string]*domain.Message         // messageID -> message
	messagesByUsr map[string]map[string]struct{}     // userID -> messageIDs
	drafts        map[string]map[string]*domain.Draft // userID -> draftID -> draft
	folders       map[string]*domain.CustomFolder     // folderID -> folder
	labels        map[string]*domain.Label            // labelID -> label
	users         map[string]*domain.User             // userID -> user
	byAddress     map[string]string                   // address -> userID

	webhooks   map[string]*domain.Webhook
	deliveries map[string][]*domain.WebhookDelivery // webhookID -> deliveries

	now func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:      make(map[string]*domain.Message),
		messagesByUsr: make(map[string]map[string]struct{}),
		drafts:        make(map[string]map[string]*domain.Draft),
		folders:       make(map[string]*domain.CustomFolder),
		labels:        make(map[string]*domain.Label),
		users:         make(map[string]*domain.User),
		byAddress:     make(map[string]string),
		webhooks:      make(map[string]*domain.Webhook),
		deliveries:    make(map[string][]*domain.WebhookDelivery),
		now:           time.Now,
	}
}

// SaveMessage 保存邮件（存在则覆盖）。
func (s *Store) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	msg.Labels = domain.NormalizeLabels(msg.Labels)

	s.messages[msg.ID] = msg.Clone()
	if s.messagesByUsr[msg.UserID] == nil {
		s.messagesByUsr[msg.UserID] = make(map[string]struct{})
	}
	s.messagesByUsr[msg.UserID][msg.ID] = struct{}{}
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// UpdateMessage 条件更新邮件，检查与写入在同一把锁内完成。
func (s *Store) UpdateMessage(_ context.Context, id string, change domain.MessageChange) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if change.ExpectFolder != "" && msg.Folder != change.ExpectFolder {
		return nil, domain.ErrConflict
	}

	change.Apply(msg, s.now())
	return msg.Clone(), nil
}

// DeleteMessage 永久删除邮件。
func (s *Store) DeleteMessage(_ context.Context, id string, expect domain.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if expect != "" && msg.Folder != expect {
		return domain.ErrConflict
	}

	delete(s.messages, id)
	delete(s.messagesByUsr[msg.UserID], id)
	return nil
}

// userMessagesLocked 返回用户的邮件副本，按创建时间倒序。调用方需持有读锁。
func (s *Store) userMessagesLocked(userID string, keep func(*domain.Message) bool) []domain.Message {
	out := make([]domain.Message, 0)
	for id := range s.messagesByUsr[userID] {
		msg := s.messages[id]
		if msg == nil || (keep != nil && !keep(msg)) {
			continue
		}
		out = append(out, *msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListMessages 分页列出符合条件的邮件。
func (s *Store) ListMessages(_ context.Context, userID string, q domain.MessageQuery) (*domain.MessagePage, error) {
	q = q.Normalize()

	s.mu.RLock()
	all := s.userMessagesLocked(userID, q.Matches)
	s.mu.RUnlock()

	page := &domain.MessagePage{
		Items:    []domain.Message{},
		Total:    len(all),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	start := (q.Page - 1) * q.PageSize
	if start >= len(all) {
		return page, nil
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	page.Items = all[start:end]
	return page, nil
}

// ListThread 列出会话中的全部邮件，按时间正序。
func (s *Store) ListThread(_ context.Context, userID, threadID string) ([]domain.Message, error) {
	s.mu.RLock()
	msgs := s.userMessagesLocked(userID, func(m *domain.Message) bool { return m.ThreadID == threadID })
	s.mu.RUnlock()

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListByFolder 列出文件夹内全部邮件。
func (s *Store) ListByFolder(_ context.Context, userID string, folder domain.Folder) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userMessagesLocked(userID, func(m *domain.Message) bool { return m.Folder == folder }), nil
}

// ListByLabel 列出带有指定标签的全部邮件。
func (s *Store) ListByLabel(_ context.Context, userID, labelID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userMessagesLocked(userID, func(m *domain.Message) bool { return m.HasLabel(labelID) }), nil
}

// FindByMessageID 按 RFC Message-ID 查找用户的邮件。
func (s *Store) FindByMessageID(_ context.Context, userID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.messagesByUsr[userID] {
		if msg := s.messages[id]; msg != nil && msg.MessageID == messageID {
			return msg.Clone(), nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

// ThreadMessageIDs 会话内所有邮件的 Message-ID。
func (s *Store) ThreadMessageIDs(_ context.Context, userID, threadID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id := range s.messagesByUsr[userID] {
		if msg := s.messages[id]; msg != nil && msg.ThreadID == threadID && msg.MessageID != "" {
			ids = append(ids, msg.MessageID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountByFolder 统计每个文件夹的总数与未读数。
func (s *Store) CountByFolder(_ context.Context, userID string) (domain.FolderCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := domain.NewFolderCounts()
	for id := range s.messagesByUsr[userID] {
		if msg := s.messages[id]; msg != nil {
			counts.Add(msg.Folder, msg.Read)
		}
	}
	return counts, nil
}

// SaveDraft 新建或覆盖草稿。
func (s *Store) SaveDraft(_ context.Context, draft *domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drafts[draft.UserID] == nil {
		s.drafts[draft.UserID] = make(map[string]*domain.Draft)
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = draft.CreatedAt
	}
	s.drafts[draft.UserID][draft.ID] = draft.Clone()
	return nil
}

// GetDraft 获取用户的草稿。
func (s *Store) GetDraft(_ context.Context, userID, id string) (*domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.drafts[userID][id]
	if !ok {
		return nil, domain.ErrDraftNotFound
	}
	return draft.Clone(), nil
}

// ListDrafts 按更新时间倒序列出草稿。
func (s *Store) ListDrafts(_ context.Context, userID string) ([]domain.Draft, error) {
	s.mu.RLock()
	out := make([]domain.Draft, 0, len(s.drafts[userID]))
	for _, d := range s.drafts[userID] {
		out = append(out, *d.Clone())
	}
	s.mu.RUnlock()

	domain.SortDraftsNewestFirst(out)
	return out, nil
}

// DeleteDraft 删除草稿。
func (s *Store) DeleteDraft(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[userID][id]; !ok {
		return domain.ErrDraftNotFound
	}
	delete(s.drafts[userID], id)
	return nil
}

// FindDraftsInReplyTo 查找回复指定邮件的草稿，按更新时间倒序。
func (s *Store) FindDraftsInReplyTo(_ context.Context, userID string, messageIDs []string) ([]domain.Draft, error) {
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}

	s.mu.RLock()
	out := make([]domain.Draft, 0)
	for _, d := range s.drafts[userID] {
		if _, ok := want[d.InReplyToID]; ok && d.InReplyToID != "" {
			out = append(out, *d.Clone())
		}
	}
	s.mu.RUnlock()

	domain.SortDraftsNewestFirst(out)
	return out, nil
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error {
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
