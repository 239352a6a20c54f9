package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// AddressResolver 判断一个地址是否属于某个会话的历史邮箱
type AddressResolver interface {
	AddressExists(address string) bool
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 本地收信模式下的只收不发 SMTP 服务器：只接受发往配置域名
// 且已被某个会话生成过的地址的邮件，其余一律 550 拒绝，
// 不提供任何中继能力。
type Backend struct {
	domain   string
	resolver AddressResolver
	inbox    *Inbox
	log      *zap.Logger
}

// NewBackend 创建 SMTP Backend
func NewBackend(domain string, resolver AddressResolver, inbox *Inbox, log *zap.Logger) *Backend {
	return &Backend{
		domain:   strings.ToLower(domain),
		resolver: resolver,
		inbox:    inbox,
		log:      log,
	}
}

// NewSession 创建新的 SMTP 会话
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

// NewServer 按固定的超时和大小限制包装 gosmtp.Server
func NewServer(backend *Backend, bindAddr string) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = bindAddr
	server.Domain = backend.domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = 5 * 1024 * 1024
	server.MaxRecipients = 10
	return server
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
// 只接受发往本域名且确实存在的地址，杜绝中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if parts[1] != s.backend.domain || !s.backend.resolver.AddressExists(addr) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox not found",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容并投递到内存收件箱
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, 5<<20))
	if err != nil {
		return err
	}

	subject, body, err := parseMessage(rawBytes)
	if err != nil {
		return fmt.Errorf("parse email: %w", err)
	}

	for _, rcpt := range s.recipients {
		id := s.backend.inbox.Deliver(rcpt, s.fromAddress, subject, body)
		s.backend.log.Debug("本地收信投递",
			zap.String("to", rcpt),
			zap.Int64("message_id", id))
	}
	return nil
}

// Reset 重置状态
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// parseMessage 提取主题和纯文本正文。
// 验证码提取只需要 text/plain 部分，HTML 和附件直接丢弃。
func parseMessage(raw []byte) (subject, body string, err error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse mail: %w", err)
	}
	subject = decodeHeader(msg.Header.Get("Subject"))

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 无 Content-Type 时按纯文本处理
		data, _ := io.ReadAll(msg.Body)
		return subject, string(data), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", fmt.Errorf("multipart message without boundary")
		}
		body = firstTextPart(multipart.NewReader(msg.Body, boundary))
		return subject, body, nil
	}

	data, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return "", "", err
	}
	return subject, data, nil
}

// firstTextPart 返回第一个 text/plain 部分的内容
func firstTextPart(mr *multipart.Reader) string {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mediaType, "text/plain") {
			continue
		}
		data, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			continue
		}
		return data
	}
}

func decodeBody(r io.Reader, transferEncoding string) (string, error) {
	switch {
	case strings.EqualFold(transferEncoding, "quoted-printable"):
		r = quotedprintable.NewReader(r)
	case strings.EqualFold(transferEncoding, "base64"):
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(data), nil
}
