package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
}

// sender is the part of gomail.Dialer the notifier uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier mails codes through an SMTP relay.
type SMTPNotifier struct {
	dialer  sender
	from    string
	appName string
	now     func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address required")
	}
	if cfg.AppName == "" {
		cfg.AppName = "Storefront"
	}
	return &SMTPNotifier{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		appName: cfg.AppName,
		now:     time.Now,
	}, nil
}

// Notify renders and sends n. gomail does not take a context; a cancelled
// ctx is checked before dialing.
func (s *SMTPNotifier) Notify(ctx context.Context, n goVerify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := Render(s.appName, n, s.now())
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send %s email: %w", n.Purpose, err)
	}
	return nil
}
