package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
)

// Sender hands a composed message to a mail transport.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

type smtpSender struct {
	addr string
	auth smtp.Auth
}

func newSMTPSender(cfg Config) *smtpSender {
	s := &smtpSender{addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))}

	if cfg.SMTPUser != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return s
}

// Send runs smtp.SendMail, which takes no context, and stops waiting once ctx is done.
func (s *smtpSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	done := make(chan error, 1)

	go func() {
		done <- smtp.SendMail(s.addr, s.auth, from, to, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending mail via %s: %w", s.addr, err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp operation cancelled: %w", ctx.Err())
	}
}
