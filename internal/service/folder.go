package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/domain"
)

const (
	maxFolderName = 100
	maxLabelName  = 50
)

// FolderService 自建文件夹管理
type FolderService struct {
	store       domain.Store
	coordinator *MutationCoordinator
	fabric      *cache.Fabric
	events      eventPublisher
	log         *zap.Logger
}

// NewFolderService 创建文件夹服务
func NewFolderService(store domain.Store, coordinator *MutationCoordinator, fabric *cache.Fabric, dispatcher EventDispatcher, log *zap.Logger) *FolderService {
	return &FolderService{
		store:       store,
		coordinator: coordinator,
		fabric:      fabric,
		events:      eventPublisher{dispatcher: dispatcher, log: log, now: time.Now},
		log:         log,
	}
}

// Create 新建文件夹，名称不能与系统文件夹或已有文件夹重复
func (s *FolderService) Create(ctx context.Context, userID, name string) (*domain.CustomFolder, error) {
	name, err := validName(name, maxFolderName)
	if err != nil {
		return nil, err
	}
	if domain.Folder(strings.ToLower(name)).IsSystem() {
		return nil, domain.NewValidationError(domain.ReasonDuplicateName, name)
	}

	folder := &domain.CustomFolder{ID: uuid.NewString(), UserID: userID, Name: name}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewValidationError(domain.ReasonDuplicateName, name)
		}
		return nil, &domain.StoreWriteError{Op: "create folder", Err: err}
	}
	return folder, nil
}

// List 列出用户的自建文件夹
func (s *FolderService) List(ctx context.Context, userID string) ([]domain.CustomFolder, error) {
	return s.store.ListFolders(ctx, userID)
}

// Delete 删除文件夹，其中的邮件先移回收件箱。
// 移动未全部成功时保留文件夹，避免留下无主邮件。删除后再扫一遍，收回期间移入的邮件。
func (s *FolderService) Delete(ctx context.Context, userID, id string) (int, error) {
	if _, err := s.store.GetFolder(ctx, userID, id); err != nil {
		return 0, err
	}

	moved, err := s.coordinator.ReassignFolder(ctx, userID, domain.Folder(id), domain.FolderInbox)
	if err != nil {
		s.log.Error("folder reassignment incomplete",
			zap.String("user", userID),
			zap.String("folder", id),
			zap.Int("moved", moved),
			zap.Error(err),
		)
		return moved, fmt.Errorf("reassign folder %s: %w", id, err)
	}

	if err := s.store.DeleteFolder(ctx, userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return moved, err
		}
		return moved, &domain.StoreWriteError{Op: "delete folder", Err: err}
	}

	// 第一轮与删除之间并发移入的邮件
	late, err := s.coordinator.ReassignFolder(ctx, userID, domain.Folder(id), domain.FolderInbox)
	moved += late
	if err != nil {
		s.log.Warn("late folder reassignment incomplete",
			zap.String("user", userID),
			zap.String("folder", id),
			zap.Int("moved", late),
			zap.Error(err),
		)
	}

	// 计数中包含该文件夹的条目
	if err := s.fabric.InvalidateUser(ctx, userID); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("user", userID), zap.Error(err))
	}
	s.events.publish(ctx, userID, domain.EventFolderDeleted, map[string]interface{}{
		"folderId": id,
		"moved":    moved,
	})
	return moved, nil
}

// LabelService 标签管理
type LabelService struct {
	store       domain.Store
	coordinator *MutationCoordinator
	fabric      *cache.Fabric
	events      eventPublisher
	log         *zap.Logger
}

// NewLabelService 创建标签服务
func NewLabelService(store domain.Store, coordinator *MutationCoordinator, fabric *cache.Fabric, dispatcher EventDispatcher, log *zap.Logger) *LabelService {
	return &LabelService{
		store:       store,
		coordinator: coordinator,
		fabric:      fabric,
		events:      eventPublisher{dispatcher: dispatcher, log: log, now: time.Now},
		log:         log,
	}
}

// LabelInput 创建或修改标签
type LabelInput struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color" binding:"omitempty,max=20"`
}

// Create 新建标签
func (s *LabelService) Create(ctx context.Context, userID string, in LabelInput) (*domain.Label, error) {
	name, err := validName(in.Name, maxLabelName)
	if err != nil {
		return nil, err
	}
	if !domain.ValidColor(in.Color) {
		return nil, domain.NewValidationError(domain.ReasonInvalidInput, "invalid label color")
	}

	label := &domain.Label{ID: uuid.NewString(), UserID: userID, Name: name, Color: in.Color}
	if err := s.store.CreateLabel(ctx, label); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewValidationError(domain.ReasonDuplicateName, name)
		}
		return nil, &domain.StoreWriteError{Op: "create label", Err: err}
	}
	return label, nil
}

// List 列出用户的标签
func (s *LabelService) List(ctx context.Context, userID string) ([]domain.Label, error) {
	return s.store.ListLabels(ctx, userID)
}

// Update 重命名或修改颜色
func (s *LabelService) Update(ctx context.Context, userID, id string, in LabelInput) (*domain.Label, error) {
	label, err := s.store.GetLabel(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	name, err := validName(in.Name, maxLabelName)
	if err != nil {
		return nil, err
	}
	if !domain.ValidColor(in.Color) {
		return nil, domain.NewValidationError(domain.ReasonInvalidInput, "invalid label color")
	}
	label.Name = name
	label.Color = in.Color

	if err := s.store.UpdateLabel(ctx, label); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewValidationError(domain.ReasonDuplicateName, name)
		}
		return nil, &domain.StoreWriteError{Op: "update label", Err: err}
	}
	return label, nil
}

// Delete 删除标签，并从所有邮件上移除
func (s *LabelService) Delete(ctx context.Context, userID, id string) (int, error) {
	if _, err := s.store.GetLabel(ctx, userID, id); err != nil {
		return 0, err
	}

	updated, err := s.coordinator.RemoveLabel(ctx, userID, id)
	if err != nil {
		s.log.Error("label removal incomplete",
			zap.String("user", userID),
			zap.String("label", id),
			zap.Int("updated", updated),
			zap.Error(err),
		)
		return updated, fmt.Errorf("remove label %s: %w", id, err)
	}

	if err := s.store.DeleteLabel(ctx, userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return updated, err
		}
		return updated, &domain.StoreWriteError{Op: "delete label", Err: err}
	}
	if err := s.fabric.InvalidateUser(ctx, userID); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("user", userID), zap.Error(err))
	}
	s.events.publish(ctx, userID, domain.EventLabelDeleted, map[string]interface{}{
		"labelId": id,
		"updated": updated,
	})
	return updated, nil
}

func validName(name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewValidationError(domain.ReasonInvalidInput, "name is required")
	}
	if utf8.RuneCountInString(name) > max {
		return "", domain.NewValidationError(domain.ReasonInvalidInput,
			fmt.Sprintf("name longer than %d characters", max))
	}
	return name, nil
}
