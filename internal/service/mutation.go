package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/monitoring"
)

// MutationCoordinator 邮件变更的唯一入口。
//
// 每次变更按固定顺序执行：校验、写入存储、使缓存失效、推送事件。
// 写入失败时不做失效也不推送；失效或推送失败只记录日志。
type MutationCoordinator struct {
	store       domain.Store
	fabric      *cache.Fabric
	events      eventPublisher
	metrics     *monitoring.Metrics
	log         *zap.Logger
	parallelism int
	now         func() time.Time
}

// CoordinatorOption 可选配置
type CoordinatorOption func(*MutationCoordinator)

// WithBulkParallelism 批量操作的并发度
func WithBulkParallelism(n int) CoordinatorOption {
	return func(c *MutationCoordinator) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithCoordinatorMetrics 启用指标
func WithCoordinatorMetrics(m *monitoring.Metrics) CoordinatorOption {
	return func(c *MutationCoordinator) { c.metrics = m }
}

// NewMutationCoordinator 创建变更协调器
func NewMutationCoordinator(store domain.Store, fabric *cache.Fabric, dispatcher EventDispatcher, log *zap.Logger, opts ...CoordinatorOption) *MutationCoordinator {
	c := &MutationCoordinator{
		store:       store,
		fabric:      fabric,
		log:         log,
		parallelism: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = eventPublisher{dispatcher: dispatcher, log: log, now: c.now}
	return c
}

// ApplySingle 对单封邮件执行指令，返回变更后的邮件。
// 指令不改变任何状态时直接返回当前邮件，不写入也不推送。
func (c *MutationCoordinator) ApplySingle(ctx context.Context, userID, messageID string, cmd domain.Command) (*domain.Message, error) {
	msg, err := c.loadOwned(ctx, userID, messageID)
	if err != nil {
		c.metrics.RecordMutation(cmd.Name(), monitoring.ResultError)
		return nil, err
	}
	return c.apply(ctx, msg, cmd)
}

// ApplyBulk 对一组邮件执行批量操作。
//
// 每封邮件独立校验与写入，一封失败不影响其他邮件；结果按请求顺序返回。
// 仅当整个请求无效（ID 为空、超过上限、来源文件夹缺失或非法）时返回错误。
// 移动类操作必须给出来源文件夹。
func (c *MutationCoordinator) ApplyBulk(ctx context.Context, userID string, req domain.BulkRequest) (*domain.BulkResult, error) {
	ids := domain.DedupeIDs(req.MessageIDs)
	if len(ids) == 0 {
		return nil, domain.NewValidationError(domain.ReasonInvalidInput, "messageIds must not be empty")
	}
	if len(ids) > domain.MaxBulkIDs {
		return nil, domain.NewValidationError(domain.ReasonTooManyIDs,
			fmt.Sprintf("at most %d messages per request", domain.MaxBulkIDs))
	}

	origin := req.CurrentFolder
	if origin != "" {
		f, err := domain.ParseFolder(string(origin))
		if err != nil {
			return nil, err
		}
		origin = f
	}

	action, actionErr := domain.ParseBulkAction(req.Action)
	if actionErr == nil && action.ChangesFolder() && origin == "" {
		return nil, domain.NewValidationError(domain.ReasonInvalidFolder,
			fmt.Sprintf("currentFolder is required for %s", action))
	}
	c.metrics.RecordBulk(len(ids))

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if actionErr != nil {
				errs[i] = actionErr
				return nil
			}
			errs[i] = c.applyBulkOne(ctx, userID, action, id, origin)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.BulkResult{
		Updated: make([]string, 0, len(ids)),
		Failed:  []domain.BulkFailure{},
	}
	for i, id := range ids {
		if errs[i] == nil {
			result.Updated = append(result.Updated, id)
			continue
		}
		reason := domain.FailureReason(errs[i])
		if !domain.IsValidation(errs[i]) && reason != domain.ReasonNotFound {
			c.log.Error("bulk item failed",
				zap.String("user", userID),
				zap.String("message", id),
				zap.String("action", req.Action),
				zap.Error(errs[i]),
			)
		}
		result.Failed = append(result.Failed, domain.BulkFailure{ID: id, Reason: reason})
	}

	c.log.Info("bulk update applied",
		zap.String("user", userID),
		zap.String("action", req.Action),
		zap.Int("updated", len(result.Updated)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (c *MutationCoordinator) applyBulkOne(ctx context.Context, userID string, action domain.BulkAction, id string, origin domain.Folder) error {
	msg, err := c.loadOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	if action.ChangesFolder() && msg.Folder != origin {
		return domain.NewValidationError(domain.ReasonNotInOriginFolder,
			fmt.Sprintf("message is in %s", msg.Folder))
	}

	cmd, permanent, err := action.Command(msg.Folder)
	if err != nil {
		return err
	}
	if permanent {
		return c.deleteForever(ctx, msg)
	}
	_, err = c.apply(ctx, msg, cmd)
	return err
}

// DeleteForever 永久删除邮件，只允许从 spam 或 trash 删除
func (c *MutationCoordinator) DeleteForever(ctx context.Context, userID, messageID string) error {
	msg, err := c.loadOwned(ctx, userID, messageID)
	if err != nil {
		return err
	}
	return c.deleteForever(ctx, msg)
}

func (c *MutationCoordinator) deleteForever(ctx context.Context, msg *domain.Message) error {
	const command = "delete_forever"
	if !domain.CanDeleteForever(msg.Folder) {
		c.metrics.RecordMutation(command, monitoring.ResultError)
		return domain.NewValidationError(domain.ReasonDeleteNotAllowed,
			fmt.Sprintf("message is in %s", msg.Folder))
	}
	if err := c.store.DeleteMessage(ctx, msg.ID, msg.Folder); err != nil {
		c.metrics.RecordMutation(command, monitoring.ResultError)
		return c.writeError("delete", err)
	}
	c.metrics.RecordMutation(command, monitoring.ResultOK)

	c.invalidate(ctx, cache.Invalidation{
		User:      msg.UserID,
		Folders:   []domain.Folder{msg.Folder},
		ThreadIDs: []string{msg.ThreadID},
	})
	c.events.publish(ctx, msg.UserID, domain.EventMessageDeleted, messageEvent(msg, msg.Folder))
	return nil
}

// SetLabels 修改邮件标签，添加的标签必须属于该用户
func (c *MutationCoordinator) SetLabels(ctx context.Context, userID, messageID string, patch domain.LabelPatch) (*domain.Message, error) {
	msg, err := c.loadOwned(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	for _, id := range patch.Add {
		if _, err := c.store.GetLabel(ctx, userID, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NewValidationError(domain.ReasonInvalidLabel, id)
			}
			return nil, fmt.Errorf("load label %s: %w", id, err)
		}
	}
	return c.updateLabels(ctx, msg, patch)
}

func (c *MutationCoordinator) updateLabels(ctx context.Context, msg *domain.Message, patch domain.LabelPatch) (*domain.Message, error) {
	const command = "set_labels"
	next := patch.Apply(msg.Labels)
	if sameLabels(next, domain.NormalizeLabels(msg.Labels)) {
		c.metrics.RecordMutation(command, monitoring.ResultNoop)
		return msg, nil
	}
	return c.commit(ctx, command, msg, domain.MessageChange{Labels: next})
}

// Deliver 保存一封新邮件（收信或发信），并解析所属会话
func (c *MutationCoordinator) Deliver(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.UserID == "" {
		return nil, domain.NewValidationError(domain.ReasonInvalidInput, "message has no owner")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Folder == "" {
		msg.Folder = domain.FolderInbox
	}
	if msg.ThreadID == "" {
		thread, err := c.resolveThread(ctx, msg.UserID, msg.InReplyTo)
		if err != nil {
			return nil, err
		}
		msg.ThreadID = thread
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}
	msg.Labels = domain.NormalizeLabels(msg.Labels)

	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return nil, &domain.StoreWriteError{Op: "save", Err: err}
	}

	c.invalidate(ctx, cache.Invalidation{
		User:      msg.UserID,
		Folders:   []domain.Folder{msg.Folder},
		ThreadIDs: []string{msg.ThreadID},
	})

	event := domain.EventMessageReceived
	if msg.Folder == domain.FolderSent {
		event = domain.EventMessageSent
	} else {
		c.metrics.RecordMessageReceived()
	}
	c.events.publish(ctx, msg.UserID, event, messageEvent(msg, msg.Folder))
	return msg, nil
}

// resolveThread 回复已知邮件时沿用其会话，否则开启新会话
func (c *MutationCoordinator) resolveThread(ctx context.Context, userID, inReplyTo string) (string, error) {
	if inReplyTo == "" {
		return uuid.NewString(), nil
	}
	parent, err := c.store.FindByMessageID(ctx, userID, inReplyTo)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.NewString(), nil
		}
		return "", fmt.Errorf("resolve thread: %w", err)
	}
	return parent.ThreadID, nil
}

// ReassignFolder 将 from 中的全部邮件移到 to，用于删除自建文件夹。
// 返回移动成功的数量；部分失败时返回合并错误。
func (c *MutationCoordinator) ReassignFolder(ctx context.Context, userID string, from, to domain.Folder) (int, error) {
	msgs, err := c.store.ListByFolder(ctx, userID, from)
	if err != nil {
		return 0, fmt.Errorf("list folder %s: %w", from, err)
	}

	var errs []error
	moved := 0
	for i := range msgs {
		if _, err := c.apply(ctx, &msgs[i], domain.MoveFolder{To: to}); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msgs[i].ID, err))
			continue
		}
		moved++
	}
	return moved, errors.Join(errs...)
}

// RemoveLabel 从用户的全部邮件上移除标签，用于删除标签
func (c *MutationCoordinator) RemoveLabel(ctx context.Context, userID, labelID string) (int, error) {
	msgs, err := c.store.ListByLabel(ctx, userID, labelID)
	if err != nil {
		return 0, fmt.Errorf("list label %s: %w", labelID, err)
	}

	var errs []error
	updated := 0
	for i := range msgs {
		patch := domain.LabelPatch{Remove: []string{labelID}}
		if _, err := c.updateLabels(ctx, &msgs[i], patch); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msgs[i].ID, err))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

// apply 校验指令并提交
func (c *MutationCoordinator) apply(ctx context.Context, msg *domain.Message, cmd domain.Command) (*domain.Message, error) {
	change, err := c.plan(ctx, msg, cmd)
	if err != nil {
		c.metrics.RecordMutation(cmd.Name(), monitoring.ResultError)
		return nil, err
	}
	if change.Empty() {
		c.metrics.RecordMutation(cmd.Name(), monitoring.ResultNoop)
		return msg, nil
	}
	return c.commit(ctx, cmd.Name(), msg, change)
}

// plan 将指令转换为存储层的条件更新
func (c *MutationCoordinator) plan(ctx context.Context, msg *domain.Message, cmd domain.Command) (domain.MessageChange, error) {
	var change domain.MessageChange
	switch cmd := cmd.(type) {
	case domain.SetRead:
		if msg.Read != cmd.Read {
			read := cmd.Read
			change.Read = &read
		}
	case domain.SetStarred:
		if msg.Starred != cmd.Starred {
			starred := cmd.Starred
			change.Starred = &starred
		}
	case domain.MoveFolder:
		if err := domain.CanTransition(msg.Folder, cmd.To); err != nil {
			return change, err
		}
		if cmd.To.IsCustom() {
			if _, err := c.store.GetFolder(ctx, msg.UserID, string(cmd.To)); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return change, domain.NewValidationError(domain.ReasonInvalidFolder, string(cmd.To))
				}
				return change, fmt.Errorf("load folder %s: %w", cmd.To, err)
			}
		}
		to := cmd.To
		change.Folder = &to
		change.ExpectFolder = msg.Folder
	default:
		return change, domain.NewValidationError(domain.ReasonUnknownAction, fmt.Sprintf("%T", cmd))
	}
	return change, nil
}

// commit 写入存储，成功后失效缓存并推送事件
func (c *MutationCoordinator) commit(ctx context.Context, command string, before *domain.Message, change domain.MessageChange) (*domain.Message, error) {
	updated, err := c.store.UpdateMessage(ctx, before.ID, change)
	if err != nil {
		c.metrics.RecordMutation(command, monitoring.ResultError)
		return nil, c.writeError("update", err)
	}
	c.metrics.RecordMutation(command, monitoring.ResultOK)

	folders := []domain.Folder{before.Folder}
	event := domain.EventMessageUpdated
	if updated.Folder != before.Folder {
		folders = append(folders, updated.Folder)
		event = domain.EventMessageMoved
	}
	c.invalidate(ctx, cache.Invalidation{
		User:      updated.UserID,
		Folders:   folders,
		ThreadIDs: []string{updated.ThreadID},
	})
	c.events.publish(ctx, updated.UserID, event, messageEvent(updated, before.Folder))
	return updated, nil
}

// loadOwned 读取邮件并校验归属
func (c *MutationCoordinator) loadOwned(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg.UserID != userID {
		return nil, domain.NewValidationError(domain.ReasonNotOwner, messageID)
	}
	return msg, nil
}

func (c *MutationCoordinator) writeError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return domain.NewValidationError(domain.ReasonConcurrentUpdate, "message changed during update")
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrMessageNotFound
	default:
		return &domain.StoreWriteError{Op: op, Err: err}
	}
}

func (c *MutationCoordinator) invalidate(ctx context.Context, inv cache.Invalidation) {
	if err := c.fabric.Invalidate(ctx, inv); err != nil {
		c.log.Warn("cache invalidation failed",
			zap.String("user", inv.User),
			zap.Strings("threads", inv.ThreadIDs),
			zap.Error(err),
		)
	}
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
