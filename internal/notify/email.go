package notify

import (
	"context"
	"fmt"

	"github.com/yodahq/dropduplicates/internal/config"

	"gopkg.in/gomail.v2"
)

// Mailer sends plain-text mail over SMTP with implicit TLS.
type Mailer struct {
	cfg config.Email
}

func NewMailer(cfg config.Email) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) Notify(_ context.Context, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.SenderEmail)
	msg.SetHeader("To", m.cfg.ReceiverEmail)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.cfg.SMTPHost, m.cfg.SMTPPort, m.cfg.SMTPUsername, m.cfg.SMTPPassword)
	d.SSL = true

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email to %s: %w", m.cfg.ReceiverEmail, err)
	}
	return nil
}
