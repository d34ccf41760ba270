package memory

import (
	"context"
	"sort"
	"strings"

	"ditmail/backend/internal/domain"
)

// CreateFolder 创建自建文件夹，同一用户下名称唯一（不区分大小写）。
func (s *Store) CreateFolder(_ context.Context, folder *domain.CustomFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.folders {
		if f.UserID == folder.UserID && strings.EqualFold(f.Name, folder.Name) {
			return domain.ErrDuplicate
		}
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = s.now()
	}
	cp := *folder
	s.folders[folder.ID] = &cp
	return nil
}

// GetFolder 获取用户的自建文件夹。
func (s *Store) GetFolder(_ context.Context, userID, id string) (*domain.CustomFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok || f.UserID != userID {
		return nil, domain.ErrFolderNotFound
	}
	cp := *f
	return &cp, nil
}

// ListFolders 按名称列出用户的自建文件夹。
func (s *Store) ListFolders(_ context.Context, userID string) ([]domain.CustomFolder, error) {
	s.mu.RLock()
	out := make([]domain.CustomFolder, 0)
	for _, f := range s.folders {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteFolder 删除自建文件夹。
func (s *Store) DeleteFolder(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[id]
	if !ok || f.UserID != userID {
		return domain.ErrFolderNotFound
	}
	delete(s.folders, id)
	return nil
}

// CreateLabel 创建标签，同一用户下名称唯一（不区分大小写）。
func (s *Store) CreateLabel(_ context.Context, label *domain.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.labelNameTakenLocked(label) {
		return domain.ErrDuplicate
	}
	now := s.now()
	label.CreatedAt = now
	label.UpdatedAt = now
	cp := *label
	s.labels[label.ID] = &cp
	return nil
}

func (s *Store) labelNameTakenLocked(label *domain.Label) bool {
	for _, l := range s.labels {
		if l.UserID == label.UserID && l.ID != label.ID && strings.EqualFold(l.Name, label.Name) {
			return true
		}
	}
	return false
}

// GetLabel 获取用户的标签。
func (s *Store) GetLabel(_ context.Context, userID, id string) (*domain.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.labels[id]
	if !ok || l.UserID != userID {
		return nil, domain.ErrLabelNotFound
	}
	cp := *l
	return &cp, nil
}

// ListLabels 按名称列出用户的标签。
func (s *Store) ListLabels(_ context.Context, userID string) ([]domain.Label, error) {
	s.mu.RLock()
	out := make([]domain.Label, 0)
	for _, l := range s.labels {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateLabel 更新标签名称与颜色。
func (s *Store) UpdateLabel(_ context.Context, label *domain.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.labels[label.ID]
	if !ok || existing.UserID != label.UserID {
		return domain.ErrLabelNotFound
	}
	if s.labelNameTakenLocked(label) {
		return domain.ErrDuplicate
	}
	existing.Name = label.Name
	existing.Color = label.Color
	existing.UpdatedAt = s.now()
	label.UpdatedAt = existing.UpdatedAt
	label.CreatedAt = existing.CreatedAt
	return nil
}

// DeleteLabel 删除标签。
func (s *Store) DeleteLabel(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.labels[id]
	if !ok || l.UserID != userID {
		return domain.ErrLabelNotFound
	}
	delete(s.labels, id)
	return nil
}

// SaveUser 新建或更新用户目录条目。
func (s *Store) SaveUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address := normalizeAddress(user.Address)
	if owner, ok := s.byAddress[address]; ok && owner != user.ID {
		return domain.ErrDuplicate
	}
	now := s.now()
	if prev, ok := s.users[user.ID]; ok {
		delete(s.byAddress, normalizeAddress(prev.Address))
		user.CreatedAt = prev.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	s.byAddress[address] = user.ID
	return nil
}

// GetUser 根据 ID 获取用户。
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByAddress 根据邮箱地址获取用户（不区分大小写）。
func (s *Store) GetUserByAddress(_ context.Context, address string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[normalizeAddress(address)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}
