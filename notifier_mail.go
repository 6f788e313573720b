package account

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// MailSender hands a rendered message to a mail transport.
type MailSender interface {
	SendMail(from string, to []string, msg []byte) error
}

// SMTPSender sends mail through net/smtp.
type SMTPSender struct {
	Addr string
	Auth smtp.Auth
}

// NewSMTPSender builds a sender from cfg. Credentials enable PLAIN auth.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{Addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
	if cfg.Username != "" {
		s.Auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *SMTPSender) SendMail(from string, to []string, msg []byte) error {
	return smtp.SendMail(s.Addr, s.Auth, from, to, msg)
}

var defaultMailTemplates = map[NotificationKind]string{
	NotificationActivation: `Hello {{ name|default:email }},

Thanks for signing up. Please activate your account by visiting:

{{ link }}
`,
	NotificationWelcome: `Welcome {{ name|default:email }},

Your account has been activated. You can log in at:

{{ link }}
`,
	NotificationPasswordReset: `Hello {{ name|default:email }},

We received a request to change your password. Follow this link to choose a new one:

{{ link }}

If you did not request a change you can ignore this email.
`,
}

// MailNotifier renders notification bodies with pongo2 and sends them as
// plain text mail.
type MailNotifier struct {
	from      string
	sender    MailSender
	templates map[NotificationKind]*pongo2.Template
}

// MailOption customizes a MailNotifier.
type MailOption func(*mailOptions)

type mailOptions struct {
	sources map[NotificationKind]string
}

// WithMailTemplate overrides the body template for kind.
func WithMailTemplate(kind NotificationKind, source string) MailOption {
	return func(o *mailOptions) {
		o.sources[kind] = source
	}
}

func NewMailNotifier(from string, sender MailSender, opts ...MailOption) (*MailNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail notifier requires a sender")
	}

	options := &mailOptions{sources: map[NotificationKind]string{}}
	for kind, source := range defaultMailTemplates {
		options.sources[kind] = source
	}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	m := &MailNotifier{
		from:      from,
		sender:    sender,
		templates: make(map[NotificationKind]*pongo2.Template, len(options.sources)),
	}
	for kind, source := range options.sources {
		// bodies are plain text
		tpl, err := pongo2.FromString("{% autoescape off %}" + source + "{% endautoescape %}")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		m.templates[kind] = tpl
	}
	return m, nil
}

// Render returns the message body for n.
func (m *MailNotifier) Render(n *Notification) (string, error) {
	tpl, ok := m.templates[n.Kind]
	if !ok {
		return "", fmt.Errorf("no template for notification kind %q", n.Kind)
	}
	ctx := pongo2.Context{}
	for k, v := range n.Params {
		ctx[k] = v
	}
	return tpl.Execute(ctx)
}

func (m *MailNotifier) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := m.Render(n)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", n.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(n.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return m.sender.SendMail(m.from, []string{n.Email}, msg.Bytes())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
