package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// SMTPOptions configures relay delivery
type SMTPOptions struct {
	Address  string
	Username string
	Password string
	From     string
	// StartTLS upgrades the connection when the relay offers it
	StartTLS bool
	Timeout  time.Duration
}

// SMTPNotifier delivers reminders through an SMTP relay
type SMTPNotifier struct {
	opts   SMTPOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPNotifier creates a relay notifier
func NewSMTPNotifier(opts SMTPOptions, logger *zap.Logger) *SMTPNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{opts: opts, logger: logger, now: time.Now}
}

// Send delivers one plain-text message
func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	data, err := buildMessage(n.opts.From, to, subject, body, n.now())
	if err != nil {
		return err
	}
	sender, err := envelopeAddress(n.opts.From)
	if err != nil {
		return err
	}
	recipient, err := envelopeAddress(to)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	dialer := net.Dialer{Timeout: n.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}
	deadline := time.Now().Add(n.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if n.opts.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			host, _, _ := net.SplitHostPort(n.opts.Address)
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if n.opts.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.opts.Username, n.opts.Password)); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(recipient, nil); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		n.logger.Warn("QUIT command failed", zap.Error(err))
	}

	n.logger.Debug("Sent reminder via SMTP", zap.String("to", recipient))
	return nil
}
