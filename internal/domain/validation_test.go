package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"纯地址", "alice@ditmail.local", "alice@ditmail.local", nil},
		{"带显示名", "Alice <Alice@Example.COM>", "alice@example.com", nil},
		{"子域名", "bob@mail.example.co.uk", "bob@mail.example.co.uk", nil},
		{"缺少@", "alice.example.com", "", ErrInvalidEmail},
		{"空字符串", "", "", ErrInvalidEmail},
		{"本地部分过长", strings.Repeat("a", 65) + "@example.com", "", ErrLocalPartTooLong},
		{"域名非法", "alice@-bad-.com", "", ErrInvalidDomain},
		{"域名下划线", "alice@my_host.com", "", ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidColor(t *testing.T) {
	tests := []struct {
		name  string
		color string
		want  bool
	}{
		{"空值", "", true},
		{"小写", "#ff0000", true},
		{"大写", "#FF0000", true},
		{"简写", "#f00", true},
		{"缺少#", "ff0000", false},
		{"长度错误", "#ff00", false},
		{"非十六进制", "#gg0000", false},
		{"颜色名", "red", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidColor(tt.color))
		})
	}
}
