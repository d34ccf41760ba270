package domain

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Message 邮箱中的一封邮件
type Message struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string          `json:"userId" gorm:"type:varchar(36);index:idx_messages_user_folder,priority:1;not null"`
	OrgID       string          `json:"orgId" gorm:"type:varchar(36);index"`
	MessageID   string          `json:"messageId" gorm:"type:varchar(255);index"` // RFC 5322 Message-ID（不含尖括号）
	InReplyTo   string          `json:"inReplyTo,omitempty" gorm:"type:varchar(255)"`
	ThreadID    string          `json:"threadId" gorm:"type:varchar(64);index"`
	Folder      Folder          `json:"folder" gorm:"type:varchar(64);index:idx_messages_user_folder,priority:2;not null"`
	Read        bool            `json:"read" gorm:"column:is_read;default:false"`
	Starred     bool            `json:"starred" gorm:"column:is_starred;default:false"`
	Labels      []string        `json:"labels" gorm:"serializer:json;type:json"`
	From        string          `json:"from" gorm:"column:from_address;type:varchar(255)"`
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

// AttachmentRef 附件元数据，附件内容由外部存储负责
type AttachmentRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// HasLabel 是否带有指定标签
func (m *Message) HasLabel(labelID string) bool {
	for _, l := range m.Labels {
		if l == labelID {
			return true
		}
	}
	return false
}

// Clone 深拷贝，存储层返回的对象不与内部状态共享切片
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Labels = append([]string(nil), m.Labels...)
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	c.Bcc = append([]string(nil), m.Bcc...)
	c.Attachments = append([]AttachmentRef(nil), m.Attachments...)
	return &c
}

// NormalizeLabels 去重并排序，标签在存储中按集合语义保存
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// MessageChange 对单封邮件的条件更新。
// ExpectFolder 非空时作为比较条件：邮件当前不在该文件夹则写入失败（ErrConflict）。
type MessageChange struct {
	ExpectFolder Folder
	Read         *bool
	Starred      *bool
	Folder       *Folder
	Labels       []string // nil 表示不修改
}

// Empty 是否没有任何字段需要写入
func (c MessageChange) Empty() bool {
	return c.Read == nil && c.Starred == nil && c.Folder == nil && c.Labels == nil
}

// Apply 将变更应用到邮件（内存实现与测试使用）
func (c MessageChange) Apply(m *Message, now time.Time) {
	if c.Read != nil {
		m.Read = *c.Read
	}
	if c.Starred != nil {
		m.Starred = *c.Starred
	}
	if c.Folder != nil {
		m.Folder = *c.Folder
	}
	if c.Labels != nil {
		m.Labels = NormalizeLabels(c.Labels)
	}
	m.UpdatedAt = now
}

// 分页默认值
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MessageQuery 列表视图查询条件
type MessageQuery struct {
	Folder   Folder `form:"folder" json:"folder"`
	Label    string `form:"label" json:"label,omitempty"`
	Text     string `form:"q" json:"q,omitempty"`
	Page     int    `form:"page" json:"page,omitempty"`
	PageSize int    `form:"pageSize" json:"pageSize,omitempty"`
}

// Normalize 填充默认值并约束分页范围
func (q MessageQuery) Normalize() MessageQuery {
	if q.Folder == "" && q.Label == "" && q.Text == "" {
		q.Folder = FolderInbox
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

// IsDefault 是否为文件夹首页的默认视图
func (q MessageQuery) IsDefault() bool {
	return q.Label == "" && q.Text == "" && q.Page == 1 && q.PageSize == DefaultPageSize
}

// Matches 内存过滤（memory 存储使用）
func (q MessageQuery) Matches(m *Message) bool {
	if q.Folder != "" && m.Folder != q.Folder {
		return false
	}
	if q.Label != "" && !m.HasLabel(q.Label) {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(m.Subject), needle) &&
			!strings.Contains(strings.ToLower(m.From), needle) &&
			!strings.Contains(strings.ToLower(m.Body), needle) {
			return false
		}
	}
	return true
}

// Segment 缓存键中的 {folder-or-query} 部分。
// 文件夹默认视图直接使用文件夹名，其余条件按 URL 查询串编码（键有序，结果稳定）。
func (q MessageQuery) Segment() string {
	q = q.Normalize()
	if q.IsDefault() {
		return string(q.Folder)
	}
	v := url.Values{}
	if q.Label != "" {
		v.Set("label", q.Label)
	}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("size", strconv.Itoa(q.PageSize))
	return string(q.Folder) + "?" + v.Encode()
}

// MessagePage 列表分页结果
type MessagePage struct {
	Items    []Message `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}
