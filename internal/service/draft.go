package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
)

// HTMLSanitizer 清洗用户提交的 HTML
type HTMLSanitizer interface {
	SanitizeHTML(s string) string
}

// DraftService 草稿的保存、发送与删除
type DraftService struct {
	store       domain.Store
	coordinator *MutationCoordinator
	sanitizer   HTMLSanitizer
	events      eventPublisher
	mailDomain  string
	log         *zap.Logger
	now         func() time.Time
}

// NewDraftService 创建草稿服务
//
// 参数:
//   - mailDomain: 生成 Message-ID 使用的域名
func NewDraftService(store domain.Store, coordinator *MutationCoordinator, sanitizer HTMLSanitizer, dispatcher EventDispatcher, mailDomain string, log *zap.Logger) *DraftService {
	s := &DraftService{
		store:       store,
		coordinator: coordinator,
		sanitizer:   sanitizer,
		mailDomain:  mailDomain,
		log:         log,
		now:         time.Now,
	}
	s.events = eventPublisher{dispatcher: dispatcher, log: log, now: s.now}
	return s
}

// Create 新建草稿
func (s *DraftService) Create(ctx context.Context, userID string, in domain.DraftInput) (*domain.Draft, error) {
	if err := s.validate(ctx, userID, in); err != nil {
		return nil, err
	}

	draft := &domain.Draft{ID: uuid.NewString(), UserID: userID}
	s.fill(draft, in)
	if err := s.store.SaveDraft(ctx, draft); err != nil {
		return nil, &domain.StoreWriteError{Op: "save draft", Err: err}
	}
	s.events.publish(ctx, userID, domain.EventDraftSaved, draftEvent(draft))
	return draft, nil
}

// Update 自动保存，整体替换草稿内容
func (s *DraftService) Update(ctx context.Context, userID, id string, in domain.DraftInput) (*domain.Draft, error) {
	draft, err := s.store.GetDraft(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, userID, in); err != nil {
		return nil, err
	}

	s.fill(draft, in)
	if err := s.store.SaveDraft(ctx, draft); err != nil {
		return nil, &domain.StoreWriteError{Op: "save draft", Err: err}
	}
	s.events.publish(ctx, userID, domain.EventDraftSaved, draftEvent(draft))
	return draft, nil
}

// Get 读取草稿
func (s *DraftService) Get(ctx context.Context, userID, id string) (*domain.Draft, error) {
	return s.store.GetDraft(ctx, userID, id)
}

// List 列出用户的全部草稿，最近修改的在前
func (s *DraftService) List(ctx context.Context, userID string) ([]domain.Draft, error) {
	drafts, err := s.store.ListDrafts(ctx, userID)
	if err != nil {
		return nil, err
	}
	domain.SortDraftsNewestFirst(drafts)
	return drafts, nil
}

// Delete 丢弃草稿
func (s *DraftService) Delete(ctx context.Context, userID, id string) error {
	draft, err := s.store.GetDraft(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDraft(ctx, userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return &domain.StoreWriteError{Op: "delete draft", Err: err}
	}
	s.events.publish(ctx, userID, domain.EventDraftDeleted, draftEvent(draft))
	return nil
}

// Send 发送草稿：在发件人的已发送中保存一封邮件，本域收件人直接投递到其收件箱，
// 然后删除草稿。外部收件人的转发不在这里处理。
func (s *DraftService) Send(ctx context.Context, sender *domain.User, id string) (*domain.Message, error) {
	draft, err := s.store.GetDraft(ctx, sender.ID, id)
	if err != nil {
		return nil, err
	}
	if len(draft.To)+len(draft.Cc)+len(draft.Bcc) == 0 {
		return nil, domain.NewValidationError(domain.ReasonInvalidInput, "draft has no recipients")
	}

	msgID := fmt.Sprintf("%s@%s", uuid.NewString(), s.mailDomain)
	sent := s.messageFromDraft(draft, sentCopy(sender, msgID))
	sent, err = s.coordinator.Deliver(ctx, sent)
	if err != nil {
		return nil, err
	}

	s.deliverLocal(ctx, sender, draft, msgID)

	if err := s.store.DeleteDraft(ctx, sender.ID, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("failed to delete sent draft", zap.String("draft", id), zap.Error(err))
	} else {
		s.events.publish(ctx, sender.ID, domain.EventDraftDeleted, draftEvent(draft))
	}
	return sent, nil
}

func sentCopy(sender *domain.User, msgID string) *domain.Message {
	return &domain.Message{
		UserID:    sender.ID,
		OrgID:     sender.OrgID,
		MessageID: msgID,
		Folder:    domain.FolderSent,
		Read:      true,
		From:      sender.Address,
	}
}

// deliverLocal 投递给本域用户。失败只记录日志，发件人的已发送不受影响。
func (s *DraftService) deliverLocal(ctx context.Context, sender *domain.User, draft *domain.Draft, msgID string) {
	seen := make(map[string]struct{})
	for _, addr := range recipients(draft) {
		rcpt, err := s.store.GetUserByAddress(ctx, addr)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.log.Warn("recipient lookup failed", zap.String("address", addr), zap.Error(err))
			}
			continue
		}
		if _, ok := seen[rcpt.ID]; ok || rcpt.ID == sender.ID {
			continue
		}
		seen[rcpt.ID] = struct{}{}

		msg := s.messageFromDraft(draft, &domain.Message{
			UserID:    rcpt.ID,
			OrgID:     rcpt.OrgID,
			MessageID: msgID,
			Folder:    domain.FolderInbox,
			From:      sender.Address,
		})
		msg.Bcc = nil
		if _, err := s.coordinator.Deliver(ctx, msg); err != nil {
			s.log.Error("local delivery failed",
				zap.String("recipient", rcpt.ID),
				zap.String("message_id", msgID),
				zap.Error(err),
			)
		}
	}
}

func (s *DraftService) messageFromDraft(d *domain.Draft, base *domain.Message) *domain.Message {
	base.InReplyTo = d.InReplyToID
	base.To = append([]string(nil), d.To...)
	base.Cc = append([]string(nil), d.Cc...)
	base.Bcc = append([]string(nil), d.Bcc...)
	base.Subject = d.Subject
	base.Body = d.Body
	base.HTML = d.HTML
	base.Attachments = append([]domain.AttachmentRef(nil), d.Attachments...)
	return base
}

// validate 校验收件人地址，回复时被回复邮件必须存在于该用户的邮箱中
func (s *DraftService) validate(ctx context.Context, userID string, in domain.DraftInput) error {
	for _, addr := range append(append(append([]string(nil), in.To...), in.Cc...), in.Bcc...) {
		if _, err := domain.NormalizeAddress(addr); err != nil {
			return domain.NewValidationError(domain.ReasonInvalidInput, fmt.Sprintf("invalid address %q", addr))
		}
	}
	if in.InReplyToID == "" {
		return nil
	}
	if _, err := s.store.FindByMessageID(ctx, userID, in.InReplyToID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError(domain.ReasonInvalidReference, in.InReplyToID)
		}
		return fmt.Errorf("resolve reply reference: %w", err)
	}
	return nil
}

func (s *DraftService) fill(d *domain.Draft, in domain.DraftInput) {
	d.InReplyToID = in.InReplyToID
	d.To = in.To
	d.Cc = in.Cc
	d.Bcc = in.Bcc
	d.Subject = strings.TrimSpace(in.Subject)
	d.Body = in.Body
	d.HTML = in.HTML
	if s.sanitizer != nil {
		d.HTML = s.sanitizer.SanitizeHTML(in.HTML)
	}
	d.Attachments = in.Attachments
	d.UpdatedAt = s.now()
}

func recipients(d *domain.Draft) []string {
	out := make([]string, 0, len(d.To)+len(d.Cc)+len(d.Bcc))
	for _, list := range [][]string{d.To, d.Cc, d.Bcc} {
		for _, raw := range list {
			if addr, err := domain.NormalizeAddress(raw); err == nil {
				out = append(out, addr)
			}
		}
	}
	return out
}

type draftPayload struct {
	DraftID     string `json:"draftId"`
	InReplyToID string `json:"inReplyToId,omitempty"`
}

func draftEvent(d *domain.Draft) draftPayload {
	return draftPayload{DraftID: d.ID, InReplyToID: d.InReplyToID}
}

// DraftResolver 查找某个会话中正在编辑的回复草稿
type DraftResolver struct {
	store domain.Store
}

// NewDraftResolver 创建草稿查找器
func NewDraftResolver(store domain.Store) *DraftResolver {
	return &DraftResolver{store: store}
}

// FindDraftForThread 返回回复该会话任一邮件的最新草稿。
// 同一会话允许存在多份草稿，此时取最近修改的一份；没有时返回 ErrDraftNotFound。
func (r *DraftResolver) FindDraftForThread(ctx context.Context, userID, threadID string) (*domain.Draft, error) {
	ids, err := r.store.ThreadMessageIDs(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.ErrDraftNotFound
	}

	drafts, err := r.store.FindDraftsInReplyTo(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, domain.ErrDraftNotFound
	}

	best := &drafts[0]
	for i := 1; i < len(drafts); i++ {
		if domain.DraftNewer(&drafts[i], best) {
			best = &drafts[i]
		}
	}
	return best, nil
}
