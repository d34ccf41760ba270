package service

import (
	"context"

	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/domain"
)

// CountsProjection 文件夹计数（总数与未读数）
//
// 计数不单独维护，每次从存储聚合后缓存，任何写入都会使 counts 标签失效。
type CountsProjection struct {
	store  domain.MessageRepository
	fabric *cache.Fabric
}

// NewCountsProjection 创建计数投影
func NewCountsProjection(store domain.MessageRepository, fabric *cache.Fabric) *CountsProjection {
	return &CountsProjection{store: store, fabric: fabric}
}

// GetFolderCounts 返回用户每个文件夹的计数，系统文件夹总是存在
func (p *CountsProjection) GetFolderCounts(ctx context.Context, userID string) (domain.FolderCounts, error) {
	lookup := cache.Lookup{
		User: userID,
		Key:  cache.CountsKey(userID),
		Tags: []string{cache.CountsTag(userID)},
	}
	return cache.Load(ctx, p.fabric, lookup, func(ctx context.Context) (domain.FolderCounts, error) {
		return p.store.CountByFolder(ctx, userID)
	})
}
