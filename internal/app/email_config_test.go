package app

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/visera/backend/pkg/mail"
)

func TestEmailDeliveryMode(t *testing.T) {
	require.Equal(t, DeliveryDisabled, EmailConfig{}.DeliveryMode())
	require.Equal(t, DeliverySMTP, EmailConfig{SMTP: SMTPConfig{Host: "smtp.example.com"}}.DeliveryMode())
	require.Equal(t, DeliveryKafka, EmailConfig{Delivery: " Kafka "}.DeliveryMode())
	require.Equal(t, DeliveryDisabled, EmailConfig{Delivery: "disabled", SMTP: SMTPConfig{Host: "smtp"}}.DeliveryMode())
}

func TestEmailNewMailer(t *testing.T) {
	mailer, err := EmailConfig{Delivery: DeliveryDisabled}.NewMailer()
	require.NoError(t, err)
	require.Nil(t, mailer)

	mailer, err = EmailConfig{SMTP: SMTPConfig{Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"}}.NewMailer()
	require.NoError(t, err)
	require.NotNil(t, mailer)

	_, err = EmailConfig{Delivery: DeliveryKafka}.NewMailer()
	require.Error(t, err, "kafka delivery without brokers must fail")

	_, err = EmailConfig{Delivery: "carrier-pigeon"}.NewMailer()
	require.Error(t, err)
}

func TestEmailKafkaSettings(t *testing.T) {
	settings := EmailConfig{Kafka: KafkaConfig{Brokers: []string{"k:9092"}, Topic: " mail ", GroupID: "workers"}}.KafkaSettings()
	require.Equal(t, []string{"k:9092"}, settings.Brokers)
	require.Equal(t, "mail", settings.Topic)
	require.Equal(t, "workers", settings.GroupID)
}

// plainSMTPServer accepts one session on a plaintext listener, like a submission port that
// does not advertise STARTTLS, and records the client's commands and message body.
type plainSMTPServer struct {
	addr     string
	commands chan []string
	body     chan string
}

func startPlainSMTPServer(t *testing.T) *plainSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &plainSMTPServer{addr: ln.Addr().String(), commands: make(chan []string, 1), body: make(chan string, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

		tp := textproto.NewConn(conn)
		var seen []string
		defer func() { srv.commands <- seen }()

		_ = tp.PrintfLine("220 localhost ESMTP test")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			seen = append(seen, line)
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch verb {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				srv.body <- strings.Join(data, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return srv
}

func TestSMTPDeliveryWithLegacyEnvironment(t *testing.T) {
	srv := startPlainSMTPServer(t)
	host, port, err := net.SplitHostPort(srv.addr)
	require.NoError(t, err)

	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_FROM_EMAIL", "no-reply@example.com")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DeliverySMTP, cfg.Email.DeliveryMode())
	require.False(t, cfg.Email.SMTP.UseTLS, "non-465 ports negotiate STARTTLS instead of dialing TLS")

	mailer, err := cfg.Email.NewMailer()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mailer.Send(ctx, mail.Message{
		To:      []string{"ada@example.com"},
		Subject: "Verify your Visera account",
		Body:    "Your code is 123456",
	}))

	require.Contains(t, <-srv.body, "Your code is 123456")
	commands := <-srv.commands
	require.NotEmpty(t, commands)
	require.True(t, strings.HasPrefix(commands[0], "EHLO"), "first command was %q", commands[0])
	require.Contains(t, commands, "RCPT TO:<ada@example.com>")
}
