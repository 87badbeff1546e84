package notify

import "context"

// Sender delivers security mail out of band. Callers treat delivery as
// fire-and-forget; implementations own their retry policy.
type Sender interface {
	SendVerification(ctx context.Context, email, purpose, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NopSender drops every message. Used in tests and local development.
type NopSender struct{}

func (NopSender) SendVerification(ctx context.Context, email, purpose, code string) error {
	return nil
}

func (NopSender) SendPasswordReset(ctx context.Context, email, token string) error {
	return nil
}
