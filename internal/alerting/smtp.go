package alerting

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// EmailTransport delivers an email.
type EmailTransport interface {
	SendEmail(ctx context.Context, m Email) error
}

// SMTPConfig configures SMTPTransport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPTransport sends multipart text/HTML mail through an SMTP relay.
// STARTTLS is used when the relay offers it.
type SMTPTransport struct {
	cfg SMTPConfig

	send func(ctx context.Context, msgs ...*mail.Msg) error
}

// NewSMTPTransport creates a transport. PLAIN auth is used when a username is set.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	t := &SMTPTransport{cfg: cfg}
	t.send = t.dialAndSend
	return t
}

func (t *SMTPTransport) dialAndSend(ctx context.Context, msgs ...*mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msgs...)
}

// SendEmail delivers m.
func (t *SMTPTransport) SendEmail(ctx context.Context, m Email) error {
	if len(m.To) == 0 {
		return fmt.Errorf("no recipients")
	}
	msg, err := buildMessage(m)
	if err != nil {
		return err
	}
	return t.send(ctx, msg)
}

// buildMessage converts m into a mail message. Header values are
// Q-encoded by the library, so names with non-ASCII text stay valid.
func buildMessage(m Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.From, err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(headerSafe(m.Subject))

	switch {
	case m.Text != "" && m.HTML != "":
		msg.SetBodyString(mail.TypeTextPlain, m.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	case m.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, m.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, m.Text)
	}
	return msg, nil
}
