package mail

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// ErrSMTPDisabled signals that mail delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

const (
	defaultSMTPTimeout = 10 * time.Second
	implicitTLSPort    = 465
)

// Message represents an outbound email. HTMLBody is optional; when present the message is
// sent as multipart/alternative with Body as the plain text part.
type Message struct {
	From     string   `json:"from,omitempty"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	HTMLBody string   `json:"html_body,omitempty"`
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

type smtpClient interface {
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
	StartTLS(*tls.Config) error
	Auth(smtp.Auth) error
	Extension(string) (bool, string)
}

type (
	smtpDialFunc func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error)
	smtpAuthFunc func(client smtpClient, cfg SMTPSettings) error
)

type smtpMailer struct {
	cfg      SMTPSettings
	dialFn   smtpDialFunc
	authFn   smtpAuthFunc
	boundary func() string
	now      func() time.Time
}

// NewSMTPMailer validates cfg and returns a Mailer that delivers over SMTP. Port 465 or
// UseTLS dial with implicit TLS; otherwise STARTTLS is negotiated when offered.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, errors.New("smtp: host is required when enabled")
		}
		if cfg.Port <= 0 {
			return nil, errors.New("smtp: port is required when enabled")
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if cfg.Port == implicitTLSPort {
		cfg.UseTLS = true
	}
	return &smtpMailer{
		cfg:      cfg,
		dialFn:   dialSMTP,
		authFn:   authenticateSMTP,
		boundary: randomBoundary,
		now:      time.Now,
	}, nil
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled {
		return ErrSMTPDisabled
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = strings.TrimSpace(m.cfg.From)
	}
	if from == "" {
		return errors.New("smtp: sender address is required")
	}
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return fmt.Errorf("smtp: invalid from address: %w", err)
	}

	recipients, err := parseRecipients(msg.To)
	if err != nil {
		return fmt.Errorf("smtp: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, client, err := m.dialFn(ctx, m.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := m.authFn(client, m.cfg); err != nil {
		return err
	}
	if err := client.Mail(sender.Address); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt.Address); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt.Address, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	payload := m.compose(sender, recipients, msg)
	if _, err := io.WriteString(wc, payload); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}

	return client.Quit()
}

// parseRecipients validates every address and drops duplicates, comparing addresses
// case-insensitively while preserving the first spelling.
func parseRecipients(raw []string) ([]*mail.Address, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]*mail.Address, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := mail.ParseAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient address %q: %w", entry, err)
		}
		key := strings.ToLower(addr.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	return out, nil
}

func (m *smtpMailer) compose(from *mail.Address, to []*mail.Address, msg Message) string {
	var sb strings.Builder
	writeHeader := func(name, value string) {
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\r\n")
	}

	rcpts := make([]string, len(to))
	for i, addr := range to {
		rcpts[i] = addr.String()
	}

	writeHeader("From", from.String())
	writeHeader("To", strings.Join(rcpts, ", "))
	writeHeader("Subject", encodeHeader(msg.Subject))
	writeHeader("Date", m.now().UTC().Format(time.RFC1123Z))
	writeHeader("Message-ID", messageID(from.Address))
	writeHeader("MIME-Version", "1.0")

	if strings.TrimSpace(msg.HTMLBody) == "" {
		writeHeader("Content-Type", "text/plain; charset=UTF-8")
		sb.WriteString("\r\n")
		sb.WriteString(msg.Body)
		return sb.String()
	}

	boundary := m.boundary()
	writeHeader("Content-Type", "multipart/alternative; boundary="+strconv.Quote(boundary))
	sb.WriteString("\r\n")

	writePart := func(contentType, body string) {
		sb.WriteString("--" + boundary + "\r\n")
		sb.WriteString("Content-Type: " + contentType + "; charset=UTF-8\r\n\r\n")
		sb.WriteString(body + "\r\n")
	}
	if msg.Body != "" {
		writePart("text/plain", msg.Body)
	}
	writePart("text/html", msg.HTMLBody)
	sb.WriteString("--" + boundary + "--\r\n")
	return sb.String()
}

// encodeHeader strips line breaks so values cannot inject headers, then applies RFC 2047
// encoding when the value is not plain ASCII.
func encodeHeader(value string) string {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	return mime.QEncoding.Encode("UTF-8", value)
}

func messageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return "<" + randomHex(16) + "@" + domain + ">"
}

func randomBoundary() string {
	return "visera-" + randomHex(12)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}

func dialSMTP(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if cfg.UseTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("smtp: dial %s: %w", address, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("smtp: new client: %w", err)
	}

	if !cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				_ = conn.Close()
				return nil, nil, fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}

	return conn, client, nil
}

func authenticateSMTP(client smtpClient, cfg SMTPSettings) error {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil
	}
	if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("smtp: auth: %w", err)
	}
	return nil
}
