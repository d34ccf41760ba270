package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/security"
)

const deliverTimeout = 30 * time.Second

// Deliverer 将收到的邮件写入收件人邮箱
type Deliverer interface {
	Deliver(ctx context.Context, msg *domain.Message) (*domain.Message, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统域名且在用户目录中存在的地址，不做中继。
type Backend struct {
	users           domain.UserRepository
	deliverer       Deliverer
	filter          *security.ContentFilter
	domain          string
	maxMessageBytes int64
	limiter         *ConnectionLimiter
	log             *zap.Logger
}

// Options Backend 配置
type Options struct {
	Domain          string
	MaxMessageBytes int64
	Limiter         *ConnectionLimiter
}

// NewBackend 创建 SMTP Backend。
func NewBackend(users domain.UserRepository, deliverer Deliverer, filter *security.ContentFilter, opts Options, log *zap.Logger) *Backend {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 25 << 20
	}
	return &Backend{
		users:           users,
		deliverer:       deliverer,
		filter:          filter,
		domain:          strings.ToLower(opts.Domain),
		maxMessageBytes: opts.MaxMessageBytes,
		limiter:         opts.Limiter,
		log:             log,
	}
}

// NewServer 创建监听 addr 的 SMTP 服务器
func NewServer(b *Backend, addr string, maxRecipients int) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = addr
	s.Domain = b.domain
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.MaxMessageBytes = b.maxMessageBytes
	s.MaxRecipients = maxRecipients
	return s
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []*domain.User
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，收件人必须属于本系统域名且存在于用户目录。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if s.backend.domain != "" && addr[at+1:] != s.backend.domain {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	user, err := s.backend.users.GetUserByAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "recipient mailbox not found",
			}
		}
		s.backend.log.Error("recipient lookup failed", zap.String("rcpt", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}

	for _, r := range s.recipients {
		if r.ID == user.ID {
			return nil
		}
	}
	s.recipients = append(s.recipients, user)
	return nil
}

// Data 处理邮件内容，为每个收件人投递一份副本。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxMessageBytes+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.backend.maxMessageBytes {
		return gosmtp.ErrDataTooLarge
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		s.backend.log.Warn("failed to parse message", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message",
		}
	}

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = uuid.NewString() + "@" + s.backend.domain
	}
	from := parsed.From
	if from == "" {
		from = s.fromAddress
	}

	folder := domain.FolderInbox
	verdict := s.backend.filter.Classify(parsed.Subject, parsed.Text, parsed.Attachments)
	if verdict.Spam {
		folder = domain.FolderSpam
		s.backend.log.Info("message classified as spam",
			zap.String("from", from),
			zap.String("reason", verdict.Reason))
	}
	html := s.backend.filter.SanitizeHTML(parsed.HTML)

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var failed int
	for _, rcpt := range s.recipients {
		msg := &domain.Message{
			UserID:      rcpt.ID,
			OrgID:       rcpt.OrgID,
			MessageID:   messageID,
			InReplyTo:   parsed.InReplyTo,
			Folder:      folder,
			From:        from,
			To:          parsed.To,
			Cc:          parsed.Cc,
			Subject:     parsed.Subject,
			Body:        parsed.Text,
			HTML:        html,
			Attachments: parsed.Attachments,
		}
		if _, err := s.backend.deliverer.Deliver(ctx, msg); err != nil {
			failed++
			s.backend.log.Error("delivery failed",
				zap.String("user", rcpt.ID),
				zap.String("messageId", messageID),
				zap.Error(err))
		}
	}

	if failed > 0 && failed == len(s.recipients) {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("delivery failed for %d recipients", failed),
		}
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}
