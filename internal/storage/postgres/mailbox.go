package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"ditmail/backend/internal/domain"
)

// ========== Folder Repository ==========

// CreateFolder 创建自建文件夹，同一用户下名称唯一
func (s *Store) CreateFolder(ctx context.Context, folder *domain.CustomFolder) error {
	return mapError(s.db.WithContext(ctx).Create(folder).Error, nil)
}

// GetFolder 获取用户的文件夹
func (s *Store) GetFolder(ctx context.Context, userID, id string) (*domain.CustomFolder, error) {
	var folder domain.CustomFolder
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&folder).Error; err != nil {
		return nil, mapError(err, domain.ErrFolderNotFound)
	}
	return &folder, nil
}

// ListFolders 按名称列出用户的文件夹
func (s *Store) ListFolders(ctx context.Context, userID string) ([]domain.CustomFolder, error) {
	folders := make([]domain.CustomFolder, 0)
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&folders).Error
	return folders, err
}

// DeleteFolder 删除文件夹
func (s *Store) DeleteFolder(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.CustomFolder{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrFolderNotFound
	}
	return nil
}

// ========== Label Repository ==========

// CreateLabel 创建标签，同一用户下名称唯一
func (s *Store) CreateLabel(ctx context.Context, label *domain.Label) error {
	return mapError(s.db.WithContext(ctx).Create(label).Error, nil)
}

// GetLabel 获取用户的标签
func (s *Store) GetLabel(ctx context.Context, userID, id string) (*domain.Label, error) {
	var label domain.Label
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&label).Error; err != nil {
		return nil, mapError(err, domain.ErrLabelNotFound)
	}
	return &label, nil
}

// ListLabels 按名称列出用户的标签
func (s *Store) ListLabels(ctx context.Context, userID string) ([]domain.Label, error) {
	labels := make([]domain.Label, 0)
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&labels).Error
	return labels, err
}

// UpdateLabel 更新标签名称与颜色
func (s *Store) UpdateLabel(ctx context.Context, label *domain.Label) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Label
		if err := tx.Where("id = ? AND user_id = ?", label.ID, label.UserID).First(&existing).Error; err != nil {
			return mapError(err, domain.ErrLabelNotFound)
		}
		label.CreatedAt = existing.CreatedAt
		label.UpdatedAt = time.Now().UTC()
		err := tx.Model(&existing).Select("name", "color", "updated_at").Updates(label).Error
		return mapError(err, domain.ErrLabelNotFound)
	})
}

// DeleteLabel 删除标签
func (s *Store) DeleteLabel(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Label{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrLabelNotFound
	}
	return nil
}

// ========== User Repository ==========

// SaveUser 新建或更新用户目录条目。地址已属于其他用户时返回 ErrDuplicate。
func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	user.Address = strings.ToLower(strings.TrimSpace(user.Address))
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner domain.User
		err := tx.Where("address = ?", user.Address).First(&owner).Error
		switch {
		case err == nil && owner.ID != user.ID:
			return domain.ErrDuplicate
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var prev domain.User
		if err := tx.Where("id = ?", user.ID).First(&prev).Error; err == nil {
			user.CreatedAt = prev.CreatedAt
		}
		return mapError(tx.Save(user).Error, nil)
	})
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapError(err, domain.ErrUserNotFound)
	}
	return &user, nil
}

// GetUserByAddress 根据邮箱地址获取用户（不区分大小写）
func (s *Store) GetUserByAddress(ctx context.Context, address string) (*domain.User, error) {
	var user domain.User
	address = strings.ToLower(strings.TrimSpace(address))
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&user).Error; err != nil {
		return nil, mapError(err, domain.ErrUserNotFound)
	}
	return &user, nil
}
