// Package notify delivers job lifecycle emails to users.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/platform/env"
	"github.com/scicloud-labs/jobgate/internal/platform/secrets"
)

// Sender delivers a single notification email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Noop discards notifications; used when no sender service is configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, to, subject, htmlBody string) error {
	return nil
}

type Config struct {
	Service       string
	APIKey        string
	SecretKey     string
	SenderAddress string
}

func ConfigFromEnv() Config {
	return Config{
		Service:       env.String("EMAIL_SENDER_SERVICE", ""),
		APIKey:        secrets.FromEnv("EMAIL_SENDER_API_KEY"),
		SecretKey:     secrets.FromEnv("EMAIL_SENDER_SECRET_KEY"),
		SenderAddress: env.String("EMAIL_SENDER_ADDRESS", ""),
	}
}

// NewSender builds the configured sender. An empty service means
// notifications are disabled.
func NewSender(cfg Config) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Service)) {
	case "":
		return Noop{}, nil
	case "mailjet":
		return NewMailjet(cfg)
	default:
		return nil, fmt.Errorf("unknown email sender service %q (only mailjet is supported)", cfg.Service)
	}
}
