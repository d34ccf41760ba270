package security

import (
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"ditmail/backend/internal/domain"
)

// Verdict 入站邮件的过滤结果
type Verdict struct {
	Spam   bool
	Reason string
}

// ContentFilter 内容过滤器：HTML 清洗与垃圾邮件判定
type ContentFilter struct {
	html   *bluemonday.Policy
	strict *bluemonday.Policy

	// 垃圾邮件关键词
	spamKeywords []string

	// 危险文件扩展名
	dangerousExtensions map[string]bool
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	html := bluemonday.UGCPolicy()
	html.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	html.AllowElements("strong", "em", "u", "s", "code", "pre", "blockquote")
	html.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	html.AllowAttrs("style").OnElements("span", "div", "p")
	html.RequireParseableURLs(true)
	html.AllowURLSchemes("http", "https", "mailto", "cid")

	return &ContentFilter{
		html:   html,
		strict: bluemonday.StrictPolicy(),
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
		},
		dangerousExtensions: map[string]bool{
			".exe": true, ".bat": true, ".cmd": true, ".scr": true,
			".pif": true, ".com": true, ".vbs": true, ".js": true,
			".jar": true, ".php": true, ".asp": true, ".jsp": true,
		},
	}
}

// SanitizeHTML 清洗邮件正文 HTML，去除脚本与事件属性
func (cf *ContentFilter) SanitizeHTML(s string) string {
	if s == "" {
		return ""
	}
	return cf.html.Sanitize(s)
}

// StripHTML 去除全部标签，用于由 HTML 生成纯文本摘要
func (cf *ContentFilter) StripHTML(s string) string {
	return strings.TrimSpace(cf.strict.Sanitize(s))
}

// Classify 判定入站邮件是否为垃圾邮件
func (cf *ContentFilter) Classify(subject, text string, attachments []domain.AttachmentRef) Verdict {
	for _, a := range attachments {
		ext := strings.ToLower(filepath.Ext(a.Filename))
		if cf.dangerousExtensions[ext] {
			return Verdict{Spam: true, Reason: "dangerous attachment: " + ext}
		}
	}

	content := strings.ToLower(subject + "\n" + text)
	hits := 0
	for _, keyword := range cf.spamKeywords {
		if strings.Contains(content, keyword) {
			hits++
		}
	}
	if hits >= 3 {
		return Verdict{Spam: true, Reason: "multiple spam keywords"}
	}
	return Verdict{}
}
