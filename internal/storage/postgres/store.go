package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"ditmail/backend/internal/config"
	"ditmail/backend/internal/domain"
)

// Store 基于 GORM 的持久化存储，支持 PostgreSQL 与 MySQL
type Store struct {
	db     *gorm.DB
	client *Client
}

// NewStore 在 PostgreSQL 连接池上创建存储实例
func NewStore(client *Client) (*Store, error) {
	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: client.DB()}))
	if err != nil {
		return nil, err
	}
	store.client = client
	return store, nil
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(cfg config.DatabaseConfig) (*Store, error) {
	store, err := NewStoreWithDialector(mysql.Open(cfg.DSN))
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return store, nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Message{},
		&domain.Draft{},
		&domain.CustomFolder{},
		&domain.Label{},
		&domain.Webhook{},
		&domain.WebhookDelivery{},
	)
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.client != nil {
		s.client.Close()
	}
	return err
}

func (s *Store) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// mapError 将 GORM 错误转换为领域错误
func mapError(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicate
	}
	return err
}

// ========== Message Repository ==========

// SaveMessage 保存邮件（存在则覆盖）
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	msg.Labels = domain.NormalizeLabels(msg.Labels)
	return mapError(s.db.WithContext(ctx).Save(msg).Error, nil)
}

// GetMessage 根据 ID 获取邮件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, mapError(err, domain.ErrMessageNotFound)
	}
	return &msg, nil
}

// UpdateMessage 条件更新：行锁内比较文件夹后写入，并发修改返回 ErrConflict
func (s *Store) UpdateMessage(ctx context.Context, id string, change domain.MessageChange) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&msg).Error; err != nil {
			return mapError(err, domain.ErrMessageNotFound)
		}
		if change.ExpectFolder != "" && msg.Folder != change.ExpectFolder {
			return domain.ErrConflict
		}

		columns := []string{"updated_at"}
		if change.Read != nil {
			columns = append(columns, "is_read")
		}
		if change.Starred != nil {
			columns = append(columns, "is_starred")
		}
		if change.Folder != nil {
			columns = append(columns, "folder")
		}
		if change.Labels != nil {
			columns = append(columns, "labels")
		}
		change.Apply(&msg, time.Now().UTC())

		return tx.Model(&domain.Message{ID: id}).Select(columns).Updates(&msg).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage 永久删除邮件，expect 非空时作为文件夹条件
func (s *Store) DeleteMessage(ctx context.Context, id string, expect domain.Folder) error {
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if expect != "" {
		query = query.Where("folder = ?", expect)
	}
	result := query.Delete(&domain.Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrMessageNotFound
	}
	return domain.ErrConflict
}

// labelCondition 按标签过滤。labels 列保存 JSON 数组。
func (s *Store) labelCondition(query *gorm.DB, labelID string) *gorm.DB {
	if s.isPostgres() {
		contains, _ := json.Marshal([]string{labelID})
		return query.Where("labels::jsonb @> CAST(? AS jsonb)", string(contains))
	}
	return query.Where("JSON_CONTAINS(labels, JSON_QUOTE(?))", labelID)
}

// ListMessages 分页列出符合条件的邮件
func (s *Store) ListMessages(ctx context.Context, userID string, q domain.MessageQuery) (*domain.MessagePage, error) {
	q = q.Normalize()

	query := s.db.WithContext(ctx).Model(&domain.Message{}).Where("user_id = ?", userID)
	if q.Folder != "" {
		query = query.Where("folder = ?", q.Folder)
	}
	if q.Label != "" {
		query = s.labelCondition(query, q.Label)
	}
	if q.Text != "" {
		like := "%" + strings.ToLower(q.Text) + "%"
		query = query.Where("(LOWER(subject) LIKE ? OR LOWER(from_address) LIKE ? OR LOWER(body) LIKE ?)", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	messages := make([]domain.Message, 0)
	offset := (q.Page - 1) * q.PageSize
	if err := query.
		Order("created_at DESC").
		Order("id ASC").
		Limit(q.PageSize).
		Offset(offset).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &domain.MessagePage{
		Items:    messages,
		Total:    int(total),
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

// ListThread 列出会话中的全部邮件，按时间正序
func (s *Store) ListThread(ctx context.Context, userID, threadID string) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("created_at ASC").
		Order("id DESC").
		Find(&messages).Error
	return messages, err
}

// ListByFolder 列出文件夹内全部邮件
func (s *Store) ListByFolder(ctx context.Context, userID string, folder domain.Folder) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND folder = ?", userID, folder).
		Order("created_at DESC").
		Find(&messages).Error
	return messages, err
}

// ListByLabel 列出带有指定标签的全部邮件
func (s *Store) ListByLabel(ctx context.Context, userID, labelID string) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	err := s.labelCondition(query, labelID).Order("created_at DESC").Find(&messages).Error
	return messages, err
}

// FindByMessageID 按 RFC Message-ID 查找用户的邮件
func (s *Store) FindByMessageID(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Order("created_at ASC").
		First(&msg).Error
	if err != nil {
		return nil, mapError(err, domain.ErrMessageNotFound)
	}
	return &msg, nil
}

// ThreadMessageIDs 会话内所有邮件的 Message-ID
func (s *Store) ThreadMessageIDs(ctx context.Context, userID, threadID string) ([]string, error) {
	ids := make([]string, 0)
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("user_id = ? AND thread_id = ? AND message_id <> ''", userID, threadID).
		Order("message_id ASC").
		Pluck("message_id", &ids).Error
	return ids, err
}

type folderCountRow struct {
	Folder domain.Folder
	Total  int
	Unread int
}

// CountByFolder 统计每个文件夹的总数与未读数
func (s *Store) CountByFolder(ctx context.Context, userID string) (domain.FolderCounts, error) {
	var rows []folderCountRow
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Select("folder, COUNT(*) AS total, SUM(CASE WHEN is_read THEN 0 ELSE 1 END) AS unread").
		Where("user_id = ?", userID).
		Group("folder").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	counts := domain.NewFolderCounts()
	for _, r := range rows {
		counts[r.Folder] = domain.FolderCount{Total: r.Total, Unread: r.Unread}
	}
	return counts, nil
}

// ========== Draft Repository ==========

// SaveDraft 新建或覆盖草稿
func (s *Store) SaveDraft(ctx context.Context, draft *domain.Draft) error {
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = draft.CreatedAt
	}
	return s.db.WithContext(ctx).Save(draft).Error
}

// GetDraft 获取用户的草稿
func (s *Store) GetDraft(ctx context.Context, userID, id string) (*domain.Draft, error) {
	var draft domain.Draft
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&draft).Error; err != nil {
		return nil, mapError(err, domain.ErrDraftNotFound)
	}
	return &draft, nil
}

// ListDrafts 按更新时间倒序列出草稿
func (s *Store) ListDrafts(ctx context.Context, userID string) ([]domain.Draft, error) {
	drafts := make([]domain.Draft, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&drafts).Error
	return drafts, err
}

// DeleteDraft 删除草稿
func (s *Store) DeleteDraft(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Draft{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

// FindDraftsInReplyTo 查找回复指定邮件的草稿，按更新时间倒序
func (s *Store) FindDraftsInReplyTo(ctx context.Context, userID string, messageIDs []string) ([]domain.Draft, error) {
	drafts := make([]domain.Draft, 0)
	if len(messageIDs) == 0 {
		return drafts, nil
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND in_reply_to_id IN ?", userID, messageIDs).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&drafts).Error
	return drafts, err
}
