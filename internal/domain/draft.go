package domain

import (
	"sort"
	"time"
)

// Draft 草稿。InReplyToID 指向被回复邮件的 Message-ID，使草稿归属于该邮件所在会话。
type Draft struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string          `json:"userId" gorm:"type:varchar(36);index;not null"`
	InReplyToID string          `json:"inReplyToId,omitempty" gorm:"column:in_reply_to_id;type:varchar(255);index"`
	To          []string        `json:"to" gorm:"column:to_addresses;serializer:json;type:json"`
	Cc          []string        `json:"cc,omitempty" gorm:"column:cc_addresses;serializer:json;type:json"`
	Bcc         []string        `json:"bcc,omitempty" gorm:"column:bcc_addresses;serializer:json;type:json"`
	Subject     string          `json:"subject" gorm:"type:varchar(500)"`
	Body        string          `json:"body" gorm:"type:text"`
	HTML        string          `json:"html,omitempty" gorm:"type:text"`
	Attachments []AttachmentRef `json:"attachments,omitempty" gorm:"serializer:json;type:json"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone 深拷贝
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	c.To = append([]string(nil), d.To...)
	c.Cc = append([]string(nil), d.Cc...)
	c.Bcc = append([]string(nil), d.Bcc...)
	c.Attachments = append([]AttachmentRef(nil), d.Attachments...)
	return &c
}

// DraftInput 创建或自动保存草稿时提交的内容
type DraftInput struct {
	InReplyToID string          `json:"inReplyToId,omitempty"`
	To          []string        `json:"to"`
	Cc          []string        `json:"cc,omitempty"`
	Bcc         []string        `json:"bcc,omitempty"`
	Subject     string          `json:"subject"`
	Body        string          `json:"body"`
	HTML        string          `json:"html,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// SortDraftsNewestFirst 按更新时间倒序排列，时间相同按 ID 升序保证稳定
func SortDraftsNewestFirst(drafts []Draft) {
	sort.Slice(drafts, func(i, j int) bool {
		return DraftNewer(&drafts[i], &drafts[j])
	})
}

// DraftNewer a 是否应排在 b 之前
func DraftNewer(a, b *Draft) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}
