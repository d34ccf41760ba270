package domain

import "time"

// Label 用户标签，邮件的 Labels 字段保存标签 ID
type Label struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);uniqueIndex:idx_labels_user_name,priority:1;not null"`
	Name      string    `json:"name" gorm:"type:varchar(50);uniqueIndex:idx_labels_user_name,priority:2;not null"`
	Color     string    `json:"color" gorm:"type:varchar(20)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LabelPatch 修改邮件标签：先添加后移除
type LabelPatch struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// Apply 计算新的标签集合
func (p LabelPatch) Apply(current []string) []string {
	remove := make(map[string]struct{}, len(p.Remove))
	for _, id := range p.Remove {
		remove[id] = struct{}{}
	}
	next := make([]string, 0, len(current)+len(p.Add))
	for _, id := range append(append([]string(nil), current...), p.Add...) {
		if _, drop := remove[id]; !drop {
			next = append(next, id)
		}
	}
	return NormalizeLabels(next)
}

// User 用户目录条目。身份认证由外部提供，这里只保存投递路由需要的信息。
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrgID     string    `json:"orgId" gorm:"type:varchar(36);index"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
