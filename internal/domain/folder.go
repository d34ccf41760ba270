package domain

import (
	"strings"
	"time"
)

// Folder 邮件所在文件夹。取值为系统文件夹名称，或用户自建文件夹的 ID。
type Folder string

// 系统文件夹
const (
	FolderInbox   Folder = "inbox"
	FolderSent    Folder = "sent"
	FolderDrafts  Folder = "drafts"
	FolderArchive Folder = "archive"
	FolderSpam    Folder = "spam"
	FolderTrash   Folder = "trash"
)

// SystemFolders 按展示顺序列出的系统文件夹
var SystemFolders = []Folder{
	FolderInbox,
	FolderSent,
	FolderDrafts,
	FolderArchive,
	FolderSpam,
	FolderTrash,
}

// folderCustom 迁移表中代表任意自建文件夹的占位符
const folderCustom Folder = "*custom"

// folderTransitions 文件夹迁移白名单（源 -> 允许的目标）
var folderTransitions = map[Folder]map[Folder]bool{
	FolderInbox:   {FolderArchive: true, FolderSpam: true, FolderTrash: true, folderCustom: true},
	FolderSent:    {FolderArchive: true, FolderTrash: true, folderCustom: true},
	FolderDrafts:  {FolderTrash: true},
	FolderArchive: {FolderInbox: true, FolderSpam: true, FolderTrash: true, folderCustom: true},
	FolderSpam:    {FolderInbox: true, FolderTrash: true},
	FolderTrash:   {FolderInbox: true},
	folderCustom:  {FolderInbox: true, FolderArchive: true, FolderSpam: true, FolderTrash: true, folderCustom: true},
}

// IsSystem 是否为系统文件夹
func (f Folder) IsSystem() bool {
	switch f {
	case FolderInbox, FolderSent, FolderDrafts, FolderArchive, FolderSpam, FolderTrash:
		return true
	}
	return false
}

// IsCustom 是否为自建文件夹（非空且不是系统文件夹）
func (f Folder) IsCustom() bool {
	return f != "" && !f.IsSystem() && !strings.HasPrefix(string(f), "*")
}

func (f Folder) kind() Folder {
	if f.IsCustom() {
		return folderCustom
	}
	return f
}

// ParseFolder 解析文件夹参数，系统文件夹名称不区分大小写
func ParseFolder(s string) (Folder, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewValidationError(ReasonInvalidFolder, "folder is required")
	}
	if f := Folder(strings.ToLower(s)); f.IsSystem() {
		return f, nil
	}
	f := Folder(s)
	if !f.IsCustom() {
		return "", NewValidationError(ReasonInvalidFolder, "unknown folder "+s)
	}
	return f, nil
}

// CanTransition 校验 from -> to 的文件夹迁移。
// 同一文件夹之间的移动视为无效操作，返回 ValidationError。
func CanTransition(from, to Folder) error {
	if !to.IsSystem() && !to.IsCustom() {
		return NewValidationError(ReasonInvalidFolder, "invalid destination folder")
	}
	if from == to {
		return NewValidationError(ReasonAlreadyInFolder, "message is already in "+string(to))
	}
	allowed, ok := folderTransitions[from.kind()]
	if !ok || !allowed[to.kind()] {
		return NewValidationError(ReasonTransitionNotAllowed,
			"cannot move from "+string(from)+" to "+string(to))
	}
	return nil
}

// CanDeleteForever 只有垃圾邮件和废纸篓中的邮件允许永久删除
func CanDeleteForever(f Folder) bool {
	return f == FolderSpam || f == FolderTrash
}

// CustomFolder 用户自建文件夹
type CustomFolder struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);uniqueIndex:idx_folders_user_name,priority:1;not null"`
	Name      string    `json:"name" gorm:"type:varchar(100);uniqueIndex:idx_folders_user_name,priority:2;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 表名
func (CustomFolder) TableName() string {
	return "folders"
}

// FolderCount 单个文件夹的统计
type FolderCount struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

// FolderCounts 按文件夹聚合的邮件计数（侧边栏角标）
type FolderCounts map[Folder]FolderCount

// NewFolderCounts 创建包含全部系统文件夹（计数为零）的统计
func NewFolderCounts() FolderCounts {
	counts := make(FolderCounts, len(SystemFolders))
	for _, f := range SystemFolders {
		counts[f] = FolderCount{}
	}
	return counts
}

// Add 累加一封邮件
func (c FolderCounts) Add(f Folder, read bool) {
	fc := c[f]
	fc.Total++
	if !read {
		fc.Unread++
	}
	c[f] = fc
}
