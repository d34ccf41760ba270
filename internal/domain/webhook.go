package domain

import "time"

// EventType 邮箱变更事件类型
type EventType string

const (
	EventMessageUpdated  EventType = "message.updated"  // 已读/星标/标签变化
	EventMessageMoved    EventType = "message.moved"    // 文件夹变化
	EventMessageDeleted  EventType = "message.deleted"  // 永久删除
	EventMessageReceived EventType = "message.received" // 新邮件投递
	EventMessageSent     EventType = "message.sent"     // 草稿发送
	EventDraftSaved      EventType = "draft.saved"
	EventDraftDeleted    EventType = "draft.deleted"
	EventFolderDeleted   EventType = "folder.deleted"
	EventLabelDeleted    EventType = "label.deleted"
)

// KnownEvents 可订阅的事件
var KnownEvents = []EventType{
	EventMessageUpdated,
	EventMessageMoved,
	EventMessageDeleted,
	EventMessageReceived,
	EventMessageSent,
	EventDraftSaved,
	EventDraftDeleted,
	EventFolderDeleted,
	EventLabelDeleted,
}

// IsKnownEvent 是否为已定义的事件
func IsKnownEvent(e string) bool {
	for _, k := range KnownEvents {
		if string(k) == e {
			return true
		}
	}
	return false
}

// Event 推送给 WebSocket 客户端与 Webhook 的事件
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"event"`
	UserID    string      `json:"userId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// MessageEvent 邮件相关事件的数据
type MessageEvent struct {
	MessageID  string `json:"messageId"`
	ThreadID   string `json:"threadId,omitempty"`
	Folder     Folder `json:"folder,omitempty"`
	FromFolder Folder `json:"fromFolder,omitempty"`
	Read       bool   `json:"read"`
	Starred    bool   `json:"starred"`
}

// Webhook 用户注册的事件回调
type Webhook struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string     `json:"userId" gorm:"type:varchar(36);index;not null"`
	URL         string     `json:"url" gorm:"type:varchar(500);not null"`
	Events      []string   `json:"events" gorm:"serializer:json;type:json"`
	Secret      string     `json:"-" gorm:"type:varchar(255)"`
	IsActive    bool       `json:"isActive" gorm:"default:true"`
	RetryCount  int        `json:"retryCount" gorm:"default:0"`
	LastError   string     `json:"lastError" gorm:"type:text"`
	LastSuccess *time.Time `json:"lastSuccess"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Subscribes 是否订阅了该事件（未指定事件视为订阅全部）
func (w *Webhook) Subscribes(e EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, s := range w.Events {
		if s == string(e) || s == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery Webhook 投递记录
type WebhookDelivery struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WebhookID  string     `json:"webhookId" gorm:"type:varchar(36);index;not null"`
	Event      EventType  `json:"event" gorm:"type:varchar(50)"`
	Payload    string     `json:"payload" gorm:"type:text"`
	StatusCode int        `json:"statusCode"`
	Response   string     `json:"response" gorm:"type:text"`
	Duration   int64      `json:"duration"` // 毫秒
	Success    bool       `json:"success" gorm:"index"`
	Error      string     `json:"error" gorm:"type:text"`
	Attempts   int        `json:"attempts"`
	NextRetry  *time.Time `json:"nextRetry" gorm:"index"`
	CreatedAt  time.Time  `json:"createdAt"`
}
