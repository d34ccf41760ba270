package domain

import (
	"fmt"
	"strings"
)

// Command 单封邮件的变更指令，只能是 SetRead、SetStarred、MoveFolder 之一
type Command interface {
	Name() string
	isCommand()
}

// SetRead 标记已读/未读
type SetRead struct{ Read bool }

// SetStarred 标星/取消标星
type SetStarred struct{ Starred bool }

// MoveFolder 移动到目标文件夹
type MoveFolder struct{ To Folder }

func (SetRead) Name() string    { return "set_read" }
func (SetStarred) Name() string { return "set_starred" }
func (MoveFolder) Name() string { return "move_folder" }

func (SetRead) isCommand()    {}
func (SetStarred) isCommand() {}
func (MoveFolder) isCommand() {}

// MessagePatch PATCH /messages/{id} 的请求体，必须且只能设置一个字段
type MessagePatch struct {
	Read    *bool   `json:"read,omitempty"`
	Starred *bool   `json:"starred,omitempty"`
	Folder  *Folder `json:"folder,omitempty"`
}

// Command 转换为变更指令
func (p MessagePatch) Command() (Command, error) {
	var cmds []Command
	if p.Read != nil {
		cmds = append(cmds, SetRead{Read: *p.Read})
	}
	if p.Starred != nil {
		cmds = append(cmds, SetStarred{Starred: *p.Starred})
	}
	if p.Folder != nil {
		f, err := ParseFolder(string(*p.Folder))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, MoveFolder{To: f})
	}
	if len(cmds) != 1 {
		return nil, NewValidationError(ReasonInvalidInput, "exactly one of read, starred, folder must be set")
	}
	return cmds[0], nil
}

// BulkAction 批量操作类型
type BulkAction string

const (
	BulkRead    BulkAction = "read"
	BulkUnread  BulkAction = "unread"
	BulkStar    BulkAction = "star"
	BulkUnstar  BulkAction = "unstar"
	BulkArchive BulkAction = "archive"
	BulkSpam    BulkAction = "spam"
	BulkDelete  BulkAction = "delete"
)

// MaxBulkIDs 单次批量操作的邮件数上限
const MaxBulkIDs = 500

// ParseBulkAction 解析批量操作
func ParseBulkAction(s string) (BulkAction, error) {
	a := BulkAction(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case BulkRead, BulkUnread, BulkStar, BulkUnstar, BulkArchive, BulkSpam, BulkDelete:
		return a, nil
	}
	return "", NewValidationError(ReasonUnknownAction, fmt.Sprintf("unknown action %q", s))
}

// ChangesFolder 是否会改变邮件所在文件夹
func (a BulkAction) ChangesFolder() bool {
	return a == BulkArchive || a == BulkSpam || a == BulkDelete
}

// Command 将批量操作转换为单封邮件指令。
// delete 从 spam/trash 发起时为永久删除，此时 permanent 为 true 且 cmd 为 nil。
func (a BulkAction) Command(current Folder) (cmd Command, permanent bool, err error) {
	switch a {
	case BulkRead:
		return SetRead{Read: true}, false, nil
	case BulkUnread:
		return SetRead{Read: false}, false, nil
	case BulkStar:
		return SetStarred{Starred: true}, false, nil
	case BulkUnstar:
		return SetStarred{Starred: false}, false, nil
	case BulkArchive:
		return MoveFolder{To: FolderArchive}, false, nil
	case BulkSpam:
		return MoveFolder{To: FolderSpam}, false, nil
	case BulkDelete:
		if CanDeleteForever(current) {
			return nil, true, nil
		}
		return MoveFolder{To: FolderTrash}, false, nil
	}
	return nil, false, NewValidationError(ReasonUnknownAction, fmt.Sprintf("unknown action %q", a))
}

// BulkRequest POST /bulk-update 请求体
type BulkRequest struct {
	Action        string   `json:"action" binding:"required"`
	MessageIDs    []string `json:"messageIds"`
	CurrentFolder Folder   `json:"currentFolder"`
}

// BulkFailure 批量操作中失败的一条
type BulkFailure struct {
	ID     string `json:"id"`
	Reason Reason `json:"reason"`
}

// BulkResult 批量操作结果，Updated 与 Failed 均保持请求中的顺序
type BulkResult struct {
	Updated []string      `json:"updated"`
	Failed  []BulkFailure `json:"failed"`
}

// Summary 给用户看的部分成功提示
func (r *BulkResult) Summary() string {
	total := len(r.Updated) + len(r.Failed)
	return fmt.Sprintf("%d of %d updated", len(r.Updated), total)
}

// DedupeIDs 去除空值与重复，保留首次出现的顺序
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
