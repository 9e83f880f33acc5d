package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/noah-isme/geo-attendance-api/pkg/config"
)

// ErrNotConfigured is returned when sender credentials or recipients are missing.
var ErrNotConfigured = errors.New("smtp is not configured")

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a plain-text email with optional attachments.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers messages through an SMTP relay. smtp.SendMail upgrades with STARTTLS
// whenever the server advertises it.
type SMTPMailer struct {
	cfg  config.SMTPConfig
	send sendFunc
	now  func() time.Time
}

// NewSMTPMailer constructs a mailer from config.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

// Configured reports whether the mailer has enough settings to send.
func (m *SMTPMailer) Configured() bool {
	return m.cfg.Host != "" && m.cfg.Sender != "" && m.cfg.Password != ""
}

// DefaultRecipients returns the configured backup recipients.
func (m *SMTPMailer) DefaultRecipients() []string {
	return append([]string(nil), m.cfg.Recipients...)
}

// Send delivers msg. Recipients default to the configured list when msg.To is empty.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	to := msg.To
	if len(to) == 0 {
		to = m.cfg.Recipients
	}
	if len(to) == 0 {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := m.compose(to, msg)
	if err != nil {
		return err
	}

	username := m.cfg.Username
	if username == "" {
		username = m.cfg.Sender
	}
	auth := smtp.PlainAuth("", username, m.cfg.Password, m.cfg.Host)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, m.cfg.Sender, to, raw); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(to []string, msg Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	headers := []string{
		"From: " + m.cfg.Sender,
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + m.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", writer.Boundary()),
	}
	buf.WriteString(strings.Join(headers, "\r\n") + "\r\n\r\n")

	body, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := body.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("write body part: %w", err)
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(wrapBase64(att.Data))); err != nil {
			return nil, fmt.Errorf("write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart message: %w", err)
	}
	return buf.Bytes(), nil
}

func wrapBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	return b.String()
}
