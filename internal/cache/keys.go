package cache

import "ditmail/backend/internal/domain"

// Tier A 键格式为 {user}:list/{folder-or-query}，Tier B 键为 {user}:thread/{id} 与 {user}:counts。
// 列表段带 list/ 前缀，自建文件夹 ID 不会与会话或计数的键重叠。
// Tier B 标签格式为 thread:{id}、counts:{user}、mailbox:{user}。

// ListKey 列表视图的缓存键
func ListKey(user string, q domain.MessageQuery) string {
	return user + ":list/" + q.Segment()
}

// ThreadKey 会话详情的缓存键
func ThreadKey(user, threadID string) string {
	return user + ":thread/" + threadID
}

// CountsKey 文件夹计数的缓存键
func CountsKey(user string) string {
	return user + ":counts"
}

// ThreadTag 会话标签
func ThreadTag(threadID string) string {
	return "thread:" + threadID
}

// CountsTag 计数标签
func CountsTag(user string) string {
	return "counts:" + user
}

// MailboxTag 用户全部列表页共用的标签
func MailboxTag(user string) string {
	return "mailbox:" + user
}
