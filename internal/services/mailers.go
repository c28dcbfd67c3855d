package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/config"
)

// LogMailer writes messages to the log instead of delivering them. It is the
// default backend for local runs.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.Info("[notify] mail",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

// SMTPMailer sends HTML mail through a relay with PLAIN auth, upgrading to
// STARTTLS when the server offers it. Every network step is bounded by the
// caller's context.
type SMTPMailer struct {
	cfg  config.SMTPConfig
	send func(ctx context.Context, auth smtp.Auth, to string, msg []byte) error
}

// smtpIdleTimeout bounds a session whose context carries no deadline.
const smtpIdleTimeout = time.Minute

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg}
	m.send = m.deliver
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("smtp: empty recipient")
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(ctx, auth, to, buildMIME(m.cfg.From, to, subject, htmlBody)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// deliver runs one SMTP session on a connection whose deadline follows ctx,
// so a stalled relay cannot outlive the caller.
func (m *SMTPMailer) deliver(ctx context.Context, auth smtp.Auth, to string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.cfg.Address())
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpIdleTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// MailEnvelope is the JSON body AMQPMailer publishes for an external mail
// worker to consume.
type MailEnvelope struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPMailer hands mail off to RabbitMQ on a topic exchange.
type AMQPMailer struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
}

func NewAMQPMailer(cfg config.AMQPConfig) (*AMQPMailer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPMailer{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: cfg.RoutingKey}, nil
}

func (m *AMQPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	b, err := json.Marshal(MailEnvelope{To: to, Subject: subject, Body: htmlBody, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return m.ch.PublishWithContext(ctx, m.exchange, m.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

func (m *AMQPMailer) Close() error {
	if m.ch != nil {
		_ = m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// NewMailer builds the backend named by cfg.Backend. The returned close
// function is never nil.
func NewMailer(cfg config.NotificationConfig, log *zap.Logger) (Mailer, func() error, error) {
	switch cfg.Backend {
	case "smtp":
		return NewSMTPMailer(cfg.SMTP), func() error { return nil }, nil
	case "amqp":
		m, err := NewAMQPMailer(cfg.AMQP)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return NewLogMailer(log), func() error { return nil }, nil
	}
}
