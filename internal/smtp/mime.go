package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset" // 注册非 UTF-8 字符集解码
	"github.com/emersion/go-message/mail"

	"ditmail/backend/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。附件只保留元数据。
type ParsedEmail struct {
	MessageID   string
	InReplyTo   string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Text        string
	HTML        string
	Attachments []domain.AttachmentRef
}

// ParseEmail 解析邮件，提取头部、文本、HTML 和附件信息。
func ParseEmail(rawEmail []byte) (*ParsedEmail, error) {
	reader, err := mail.CreateReader(bytes.NewReader(rawEmail))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer reader.Close()

	h := reader.Header
	parsed := &ParsedEmail{
		To: addressList(h, "To"),
		Cc: addressList(h, "Cc"),
	}
	if subject, err := h.Subject(); err == nil {
		parsed.Subject = strings.TrimSpace(subject)
	}
	if id, err := h.MessageID(); err == nil {
		parsed.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		parsed.InReplyTo = ids[0]
	}
	if from := addressList(h, "From"); len(from) > 0 {
		parsed.From = from[0]
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsed, fmt.Errorf("read part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				if parsed.HTML == "" {
					parsed.HTML = string(body)
				}
			case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"):
				if parsed.Text == "" {
					parsed.Text = string(body)
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "unnamed"
			}
			contentType, _, _ := header.ContentType()
			size, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				continue
			}
			parsed.Attachments = append(parsed.Attachments, domain.AttachmentRef{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	return parsed, nil
}

func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, normalizeAddress(a.Address))
	}
	return out
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
