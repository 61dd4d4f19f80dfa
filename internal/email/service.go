// Package email sends client correspondence over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaddesk/api/internal/richtext"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Message is one outgoing email to a lead.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	Agent    string
	LeadName string
}

// Sent describes a delivered message as it should be recorded in the lead's
// correspondence.
type Sent struct {
	MessageID string
	From      string
	To        string
	Subject   string
	HTML      string
	Text      string
	SentAt    time.Time
}

// Send renders body (plain text, HTML or editor JSON) into the letter
// template and delivers it as multipart/alternative.
func (s *Service) Send(msg Message) (Sent, error) {
	if !s.IsConfigured() {
		return Sent{}, ErrNotConfigured
	}
	if strings.TrimSpace(msg.To) == "" {
		return Sent{}, errors.New("email: recipient address is empty")
	}

	bodyHTML := richtext.ToHTML(msg.Body)
	letter, err := renderTemplate(letterTemplate, letterData{
		LeadName: msg.LeadName,
		Body:     template.HTML(bodyHTML),
		Agent:    msg.Agent,
		Office:   s.config.FromName,
	})
	if err != nil {
		return Sent{}, fmt.Errorf("render letter template: %w", err)
	}

	sent := Sent{
		MessageID: s.messageID(),
		From:      s.fromHeader(),
		To:        addressHeader(msg.ToName, msg.To),
		Subject:   strings.TrimSpace(msg.Subject),
		HTML:      bodyHTML,
		Text:      richtext.PlainText(bodyHTML),
		SentAt:    s.now().UTC(),
	}
	raw := buildMultipart(sent, letter)
	if err := s.send(s.server, s.auth, s.config.From, []string{msg.To}, raw); err != nil {
		return Sent{}, fmt.Errorf("send email: %w", err)
	}
	return sent, nil
}

func (s *Service) messageID() string {
	domain := "leaddesk.local"
	if at := strings.LastIndex(s.config.From, "@"); at >= 0 && at < len(s.config.From)-1 {
		domain = s.config.From[at+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

func (s *Service) fromHeader() string {
	return addressHeader(s.config.FromName, s.config.From)
}

func addressHeader(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), address)
}

func buildMultipart(sent Sent, letter string) []byte {
	boundary := "leaddesk-" + strings.Trim(sent.MessageID, "<>")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", sent.To)
	fmt.Fprintf(&msg, "From: %s\r\n", sent.From)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sent.Subject))
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", sent.MessageID)
	fmt.Fprintf(&msg, "Date: %s\r\n", sent.SentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", sent.Text)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", letter)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type letterData struct {
	LeadName string
	Body     template.HTML
	Agent    string
	Office   string
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const letterTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px; }
        .footer { margin-top: 30px; padding-top: 16px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    {{if .LeadName}}<p>Dear {{.LeadName}},</p>{{end}}
    {{.Body}}
    <div class="footer">
        {{if .Agent}}<p>{{.Agent}}</p>{{end}}
        {{if .Office}}<p>{{.Office}}</p>{{end}}
    </div>
</body>
</html>`
