package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Notifier delivers a message to a contact identity. Delivery is
// best-effort: callers log failures and move on, a failed notification
// never reverses the state change that triggered it.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

type Config struct {
	SMTPAddr string
	From     string
	Username string
	Password string
}

// New returns an SMTP-backed notifier when an SMTP address is configured
// and a log-only notifier otherwise, so local setups work without a mail
// server.
func New(cfg Config, log *slog.Logger) Notifier {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.SMTPAddr) == "" {
		return &LogNotifier{log: log.With(slog.String("component", "notify.log"))}
	}
	return &EmailNotifier{cfg: cfg, log: log.With(slog.String("component", "notify.email"))}
}

// LogNotifier writes the message to the log instead of sending it.
type LogNotifier struct {
	log *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return nil
	}
	n.log.Info("mock notification",
		slog.String("to", recipient),
		slog.String("subject", subject),
	)
	return nil
}

// EmailNotifier sends plain-text mail over SMTP.
type EmailNotifier struct {
	cfg Config
	log *slog.Logger
}

func (n *EmailNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.cfg.From, recipient, subject, body)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host := n.cfg.SMTPAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}

	if err := smtp.SendMail(n.cfg.SMTPAddr, auth, n.cfg.From, []string{recipient}, []byte(msg)); err != nil {
		return err
	}

	n.log.Info("notification sent", slog.String("to", recipient), slog.String("subject", subject))
	return nil
}
