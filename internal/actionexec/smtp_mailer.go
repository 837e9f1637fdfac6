package actionexec

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"
)

// smtpDialTimeout bounds connection setup, mirroring the teacher's
// email package default.
const smtpDialTimeout = 30 * time.Second

// SMTPConfig names the outgoing relay. StartTLS selects the upgrade
// handshake (typically port 587); when false, the connection dials
// straight into implicit TLS (typically port 465).
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// SMTPMailer sends mail directly over SMTP. Each call opens and closes
// its own connection; there is no connection pooling.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer builds a Mailer around cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendMail implements Mailer.
func (m *SMTPMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	cfg := m.cfg
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	var err error
	if !cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	msg := composeMessage(cfg.From, to, subject, body)
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}

// composeMessage builds a minimal RFC 5322 message. Alert notifications
// carry plain-text bodies only; there is no attachment or MIME
// multipart support to mirror here.
func composeMessage(from string, to []string, subject, body string) []byte {
	var sb []byte
	sb = append(sb, []byte(fmt.Sprintf("From: %s\r\n", from))...)
	sb = append(sb, []byte(fmt.Sprintf("To: %s\r\n", joinAddrs(to)))...)
	sb = append(sb, []byte(fmt.Sprintf("Subject: %s\r\n", subject))...)
	sb = append(sb, []byte("MIME-Version: 1.0\r\n")...)
	sb = append(sb, []byte("Content-Type: text/plain; charset=\"utf-8\"\r\n")...)
	sb = append(sb, []byte("\r\n")...)
	sb = append(sb, []byte(body)...)
	return sb
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
