package domain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// 地址校验错误
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// RFC 5321 长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	colorRegex  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// NormalizeAddress 解析收件人地址，允许 "Name <addr>" 形式，返回小写的纯地址
func NormalizeAddress(raw string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidEmail
	}
	addr := strings.ToLower(parsed.Address)
	if len(addr) > MaxEmailLength {
		return "", ErrEmailTooLong
	}

	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "", ErrInvalidEmail
	}
	if at > MaxLocalPartLength {
		return "", ErrLocalPartTooLong
	}
	host := addr[at+1:]
	if len(host) > MaxDomainLength || !domainRegex.MatchString(host) {
		return "", ErrInvalidDomain
	}
	return addr, nil
}

// ValidColor 标签颜色为空或十六进制颜色值
func ValidColor(color string) bool {
	return color == "" || colorRegex.MatchString(color)
}
