package smtp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/security"
	"ditmail/backend/internal/storage/memory"
)

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []*domain.Message
	err  error
}

func (d *recordingDeliverer) Deliver(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.msgs = append(d.msgs, msg)
	return msg, nil
}

const plainMessage = "From: Alice <Alice@Example.com>\r\n" +
	"To: bob@ditmail.local\r\n" +
	"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"In-Reply-To: <parent@ditmail.local>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello bob\r\n"

const multipartMessage = "From: alice@example.com\r\n" +
	"To: bob@ditmail.local\r\n" +
	"Subject: report\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>see attached</p><script>alert(1)</script>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"setup.exe\"\r\n" +
	"\r\n" +
	"MZ....\r\n" +
	"--XYZ--\r\n"

func newTestBackend(t *testing.T) (*Backend, *recordingDeliverer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, &domain.User{ID: "u-bob", OrgID: "org1", Address: "bob@ditmail.local"}))
	require.NoError(t, store.SaveUser(ctx, &domain.User{ID: "u-carol", Address: "carol@ditmail.local"}))

	d := &recordingDeliverer{}
	b := NewBackend(store, d, security.NewContentFilter(), Options{
		Domain:          "ditmail.local",
		MaxMessageBytes: 1 << 20,
		Limiter:         NewConnectionLimiter(10, 100),
	}, zap.NewNop())
	return b, d, store
}

func smtpCode(err error) int {
	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestParseEmail(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		parsed, err := ParseEmail([]byte(plainMessage))
		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
		assert.Equal(t, "alice@example.com", parsed.From)
		assert.Equal(t, []string{"bob@ditmail.local"}, parsed.To)
		assert.Equal(t, "abc123@example.com", parsed.MessageID)
		assert.Equal(t, "parent@ditmail.local", parsed.InReplyTo)
		assert.Contains(t, parsed.Text, "hello bob")
	})

	t.Run("多部分邮件与附件", func(t *testing.T) {
		parsed, err := ParseEmail([]byte(multipartMessage))
		require.NoError(t, err)
		assert.Contains(t, parsed.HTML, "see attached")
		require.Len(t, parsed.Attachments, 1)
		assert.Equal(t, "setup.exe", parsed.Attachments[0].Filename)
		assert.Greater(t, parsed.Attachments[0].Size, int64(0))
	})
}

func TestSession(t *testing.T) {
	t.Run("投递到每个收件人", func(t *testing.T) {
		b, d, _ := newTestBackend(t)
		s, err := b.NewSession(nil)
		require.NoError(t, err)
		defer s.Logout()

		require.NoError(t, s.Mail("alice@example.com", nil))
		require.NoError(t, s.Rcpt("<Bob@ditmail.local>", nil))
		require.NoError(t, s.Rcpt("carol@ditmail.local", nil))
		require.NoError(t, s.Rcpt("bob@ditmail.local", nil))
		require.NoError(t, s.Data(strings.NewReader(plainMessage)))

		require.Len(t, d.msgs, 2)
		assert.Equal(t, "u-bob", d.msgs[0].UserID)
		assert.Equal(t, "org1", d.msgs[0].OrgID)
		assert.Equal(t, "u-carol", d.msgs[1].UserID)
		assert.Equal(t, domain.FolderInbox, d.msgs[0].Folder)
		assert.Equal(t, "parent@ditmail.local", d.msgs[0].InReplyTo)
	})

	t.Run("拒绝外部域名", func(t *testing.T) {
		b, _, _ := newTestBackend(t)
		s, err := b.NewSession(nil)
		require.NoError(t, err)
		assert.Equal(t, 550, smtpCode(s.Rcpt("someone@gmail.com", nil)))
	})

	t.Run("拒绝不存在的邮箱", func(t *testing.T) {
		b, _, _ := newTestBackend(t)
		s, err := b.NewSession(nil)
		require.NoError(t, err)
		assert.Equal(t, 550, smtpCode(s.Rcpt("nobody@ditmail.local", nil)))
		assert.Equal(t, 501, smtpCode(s.Rcpt("not-an-address", nil)))
	})

	t.Run("危险附件进入垃圾邮件并清洗 HTML", func(t *testing.T) {
		b, d, _ := newTestBackend(t)
		s, err := b.NewSession(nil)
		require.NoError(t, err)
		require.NoError(t, s.Rcpt("bob@ditmail.local", nil))
		require.NoError(t, s.Data(strings.NewReader(multipartMessage)))

		require.Len(t, d.msgs, 1)
		assert.Equal(t, domain.FolderSpam, d.msgs[0].Folder)
		assert.NotContains(t, d.msgs[0].HTML, "script")
		assert.NotEmpty(t, d.msgs[0].MessageID)
	})

	t.Run("全部投递失败返回临时错误", func(t *testing.T) {
		b, d, _ := newTestBackend(t)
		d.err = errors.New("db down")
		s, err := b.NewSession(nil)
		require.NoError(t, err)
		require.NoError(t, s.Rcpt("bob@ditmail.local", nil))
		assert.Equal(t, 451, smtpCode(s.Data(strings.NewReader(plainMessage))))
	})
}

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(2, 100)
	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	l.Release()
	assert.Equal(t, 1, l.Current())
	assert.True(t, l.Acquire())

	b, _, _ := newTestBackend(t)
	b.limiter = NewConnectionLimiter(0, 100)
	_, err := b.NewSession(nil)
	assert.Equal(t, 421, smtpCode(err))
}
