package domain

import "context"

// MessageRepository 邮件存取
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// GetMessage 按 ID 读取，不做归属过滤；归属由调用方校验
	GetMessage(ctx context.Context, id string) (*Message, error)
	// UpdateMessage 条件更新，ExpectFolder 不匹配时返回 ErrConflict
	UpdateMessage(ctx context.Context, id string, change MessageChange) (*Message, error)
	// DeleteMessage 永久删除，expect 非空时作为文件夹条件
	DeleteMessage(ctx context.Context, id string, expect Folder) error
	ListMessages(ctx context.Context, userID string, q MessageQuery) (*MessagePage, error)
	ListThread(ctx context.Context, userID, threadID string) ([]Message, error)
	ListByFolder(ctx context.Context, userID string, folder Folder) ([]Message, error)
	ListByLabel(ctx context.Context, userID, labelID string) ([]Message, error)
	FindByMessageID(ctx context.Context, userID, messageID string) (*Message, error)
	// ThreadMessageIDs 会话内所有邮件的 Message-ID
	ThreadMessageIDs(ctx context.Context, userID, threadID string) ([]string, error)
	CountByFolder(ctx context.Context, userID string) (FolderCounts, error)
}

// DraftRepository 草稿存取
type DraftRepository interface {
	SaveDraft(ctx context.Context, draft *Draft) error
	GetDraft(ctx context.Context, userID, id string) (*Draft, error)
	ListDrafts(ctx context.Context, userID string) ([]Draft, error)
	DeleteDraft(ctx context.Context, userID, id string) error
	// FindDraftsInReplyTo 回复 messageIDs 中任一邮件的草稿
	FindDraftsInReplyTo(ctx context.Context, userID string, messageIDs []string) ([]Draft, error)
}

// FolderRepository 自建文件夹存取
type FolderRepository interface {
	CreateFolder(ctx context.Context, folder *CustomFolder) error
	GetFolder(ctx context.Context, userID, id string) (*CustomFolder, error)
	ListFolders(ctx context.Context, userID string) ([]CustomFolder, error)
	DeleteFolder(ctx context.Context, userID, id string) error
}

// LabelRepository 标签存取
type LabelRepository interface {
	CreateLabel(ctx context.Context, label *Label) error
	GetLabel(ctx context.Context, userID, id string) (*Label, error)
	ListLabels(ctx context.Context, userID string) ([]Label, error)
	UpdateLabel(ctx context.Context, label *Label) error
	DeleteLabel(ctx context.Context, userID, id string) error
}

// UserRepository 用户目录存取
type UserRepository interface {
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByAddress(ctx context.Context, address string) (*User, error)
}

// WebhookRepository Webhook 存取
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, webhook *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]Webhook, error)
	UpdateWebhook(ctx context.Context, webhook *Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, delivery *WebhookDelivery) error
	GetDeliveries(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error)
	GetPendingDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
}

// Store 聚合所有存储接口
type Store interface {
	MessageRepository
	DraftRepository
	FolderRepository
	LabelRepository
	UserRepository
	WebhookRepository

	Health(ctx context.Context) error
	Close() error
}
