package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	quit    bool
	rcptErr error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error {
	if f.rcptErr != nil {
		return f.rcptErr
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) { return nopWriteCloser{&f.data}, nil }
func (f *fakeSMTPClient) Quit() error { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) {
	return false, ""
}

var fixedSendTime = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestSMTPMailer(t *testing.T, client *fakeSMTPClient) *smtpMailer {
	t.Helper()
	return &smtpMailer{
		cfg: SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "Visera <no-reply@example.com>", Timeout: time.Second},
		dialFn: func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
			left, right := net.Pipe()
			t.Cleanup(func() { _ = right.Close() })
			return left, client, nil
		},
		authFn:   func(smtpClient, SMTPSettings) error { return nil },
		boundary: func() string { return "b2" },
		now:      func() time.Time { return fixedSendTime },
	}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	disabled, err := NewSMTPMailer(SMTPSettings{})
	require.NoError(t, err)
	require.ErrorIs(t, disabled.Send(context.Background(), Message{To: []string{"a@example.com"}}), ErrSMTPDisabled)
}

func TestNewSMTPMailerDefaults(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 465})
	require.NoError(t, err)

	sm := mailer.(*smtpMailer)
	require.Equal(t, defaultSMTPTimeout, sm.cfg.Timeout)
	require.True(t, sm.cfg.UseTLS, "port 465 implies implicit TLS")
}

func TestSMTPMailerSendDeliversThroughClient(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestSMTPMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"user@example.com", "USER@example.com", "  "},
		Subject:  "Hello",
		Body:     "text",
		HTMLBody: "<b>html</b>",
	})
	require.NoError(t, err)
	require.Equal(t, "no-reply@example.com", client.from)
	require.Equal(t, []string{"user@example.com"}, client.rcpts)
	require.True(t, client.quit)

	payload := client.data.String()
	require.Contains(t, payload, "From: \"Visera\" <no-reply@example.com>\r\n")
	require.Contains(t, payload, "To: <user@example.com>\r\n")
	require.Contains(t, payload, "Date: Mon, 03 Feb 2025 04:05:06 +0000\r\n")
	require.Contains(t, payload, "@example.com>\r\n")
	require.Contains(t, payload, "Content-Type: multipart/alternative; boundary=\"b2\"\r\n")
	require.Contains(t, payload, "Content-Type: text/plain; charset=UTF-8\r\n\r\ntext\r\n")
	require.Contains(t, payload, "Content-Type: text/html; charset=UTF-8\r\n\r\n<b>html</b>\r\n")
	require.True(t, strings.HasSuffix(payload, "--b2--\r\n"))

	msg, err := mail.ReadMessage(strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "Hello", msg.Header.Get("Subject"))
	require.True(t, strings.HasPrefix(msg.Header.Get("Message-Id"), "<"))
}

func TestSMTPMailerPlainTextMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestSMTPMailer(t, client)

	require.NoError(t, mailer.Send(context.Background(), Message{
		To:      []string{"user@example.com"},
		Subject: "Code\r\nBcc: victim@example.com",
		Body:    "123456",
	}))

	msg, err := mail.ReadMessage(strings.NewReader(client.data.String()))
	require.NoError(t, err)
	require.Empty(t, msg.Header.Get("Bcc"))
	require.Equal(t, "Code  Bcc: victim@example.com", msg.Header.Get("Subject"))
	require.Equal(t, "text/plain; charset=UTF-8", msg.Header.Get("Content-Type"))

	body, err := io.ReadAll(msg.Body)
	require.NoError(t, err)
	require.Equal(t, "123456", string(body))
}

func TestSMTPMailerEncodesNonASCIISubject(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestSMTPMailer(t, client)

	require.NoError(t, mailer.Send(context.Background(), Message{
		To:      []string{"user@example.com"},
		Subject: "Vérifiez votre compte",
		Body:    "x",
	}))

	payload := client.data.String()
	require.Contains(t, payload, "Subject: =?UTF-8?q?")

	msg, err := mail.ReadMessage(strings.NewReader(payload))
	require.NoError(t, err)
	decoded, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	require.Equal(t, "Vérifiez votre compte", decoded)
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	mailer := newTestSMTPMailer(t, &fakeSMTPClient{})
	ctx := context.Background()

	err := mailer.Send(ctx, Message{To: []string{"   ", "\t"}})
	require.ErrorContains(t, err, "at least one recipient")

	err = mailer.Send(ctx, Message{To: []string{"user@example.com", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")

	err = mailer.Send(ctx, Message{From: "invalid-from", To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	mailer.cfg.From = ""
	err = mailer.Send(ctx, Message{To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "sender address is required")
}

func TestSMTPMailerWrapsRcptError(t *testing.T) {
	client := &fakeSMTPClient{rcptErr: errors.New("550 mailbox unavailable")}
	mailer := newTestSMTPMailer(t, client)

	err := mailer.Send(context.Background(), Message{To: []string{"user@example.com"}, Body: "x"})
	require.ErrorContains(t, err, "rcpt to user@example.com")
	require.ErrorContains(t, err, "550 mailbox unavailable")
	require.False(t, client.quit)
}

func TestParseRecipientsKeepsFirstSpelling(t *testing.T) {
	addrs, err := parseRecipients([]string{"Alice@Example.com", "bob@example.com", " alice@example.com ", "", "Bob <bob@example.com>"})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Equal(t, "Alice@Example.com", addrs[0].Address)
	require.Equal(t, "bob@example.com", addrs[1].Address)
}
