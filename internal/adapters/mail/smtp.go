// Package mail delivers transactional email over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const defaultFromName = "Aloe Signs"

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// From defaults to User.
	From    string
	Timeout time.Duration
}

type SMTPMailer struct {
	cfg     SMTPConfig
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]
	nowFn   func() time.Time
}

var _ ports.Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(logger *slog.Logger, cfg SMTPConfig) *SMTPMailer {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "mail", "layer", "adapter")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &SMTPMailer{cfg: cfg, logger: logger, breaker: breaker, nowFn: time.Now}
}

// Enabled is false until both SMTP credentials are configured.
func (m *SMTPMailer) Enabled() bool {
	return m.cfg.User != "" && m.cfg.Password != ""
}

func (m *SMTPMailer) Send(ctx context.Context, msg ports.EmailMessage) error {
	if !m.Enabled() {
		m.logger.WarnContext(ctx, "email credentials not configured, email not sent",
			"operation", "send",
			"outcome", "skipped",
			"kind", msg.Kind,
		)
		return nil
	}
	to := sanitizeHeader(msg.To)
	if to == "" {
		return errors.New("email recipient is required")
	}
	raw := m.buildMessage(msg, to)
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.deliver(ctx, to, raw)
	})
	if err != nil {
		return fmt.Errorf("send %s email: %w", msg.Kind, err)
	}
	m.logger.InfoContext(ctx, "email sent",
		"operation", "send",
		"outcome", "success",
		"kind", msg.Kind,
		"to", to,
	)
	return nil
}

func (m *SMTPMailer) buildMessage(msg ports.EmailMessage, to string) []byte {
	fromName := msg.FromName
	if fromName == "" {
		fromName = defaultFromName
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %q <%s>\r\n", fromName, m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(msg.Subject)))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.nowFn().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(m.cfg.From))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	_, _ = qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	_ = qp.Close()
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func (m *SMTPMailer) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if m.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("start tls: %w", err)
			}
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start message: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	_ = client.Quit()
	return nil
}

func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", "")
	v = strings.ReplaceAll(v, "\n", "")
	return strings.TrimSpace(v)
}

func domainOf(addr string) string {
	if _, d, ok := strings.Cut(addr, "@"); ok && d != "" {
		return d
	}
	return "localhost"
}
