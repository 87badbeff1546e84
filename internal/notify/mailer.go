package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"idguard/api/internal/config"
)

// Mailer sends verification codes and reset links over SMTP.
type Mailer struct {
	client *mail.Client
	from   string
	log    zerolog.Logger
}

func NewMailer(cfg config.SMTPConfig, log zerolog.Logger) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	return &Mailer{client: client, from: cfg.From, log: log}, nil
}

func (m *Mailer) SendVerification(ctx context.Context, email, purpose, code string) error {
	subject := "Your verification code"
	body := fmt.Sprintf("Your %s code is: %s\n\nIt expires shortly. If you did not request it, ignore this message.", purpose, code)
	return m.send(ctx, email, subject, body)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, email, token string) error {
	subject := "Password reset"
	body := fmt.Sprintf("Use this token to reset your password: %s\n\nIf you did not request a reset, ignore this message.", token)
	return m.send(ctx, email, subject, body)
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
