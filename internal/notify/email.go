package notify

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/jwalitptl/pilltrack-api/internal/reminder"
)

// EmailChannel sends reminder emails through SMTP. Optional; configured
// deployments use it as a fallback when the device cannot receive pushes.
type EmailChannel struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.To,
	}
}

func (c *EmailChannel) Name() string {
	return "email"
}

func (c *EmailChannel) Deliver(ctx context.Context, payload reminder.Payload) error {
	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", c.to)
	m.SetHeader("Subject", fmt.Sprintf("Pill reminder: %s", payload.PillName))
	m.SetBody("text/plain", fmt.Sprintf(
		"Time to take %s at %s (in a few minutes).",
		payload.PillName, payload.ScheduledAt,
	))

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send reminder email: %w", err)
	}
	return nil
}
