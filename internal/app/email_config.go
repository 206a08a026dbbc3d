package app

import (
	"fmt"
	"strings"

	"github.com/visera/backend/pkg/mail"
)

// Email delivery modes.
const (
	DeliverySMTP     = "smtp"
	DeliveryKafka    = "kafka"
	DeliveryDisabled = "disabled"
)

// DeliveryMode returns the configured delivery mode. When unset, SMTP is used if a host is
// configured and delivery is disabled otherwise.
func (c EmailConfig) DeliveryMode() string {
	mode := strings.ToLower(strings.TrimSpace(c.Delivery))
	if mode != "" {
		return mode
	}
	if strings.TrimSpace(c.SMTP.Host) != "" {
		return DeliverySMTP
	}
	return DeliveryDisabled
}

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  strings.TrimSpace(c.SMTP.Host) != "",
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     strings.TrimSpace(c.SMTP.From),
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// KafkaSettings converts EmailConfig to the queue settings shared by the API and the mail worker.
func (c EmailConfig) KafkaSettings() mail.KafkaSettings {
	return mail.KafkaSettings{
		Brokers:  c.Kafka.Brokers,
		Topic:    strings.TrimSpace(c.Kafka.Topic),
		GroupID:  strings.TrimSpace(c.Kafka.GroupID),
		Username: c.Kafka.Username,
		Password: c.Kafka.Password,
		UseTLS:   c.Kafka.UseTLS,
		Timeout:  c.Kafka.Timeout,
	}
}

// NewMailer builds the mailer for the configured delivery mode. A nil Mailer with a nil
// error means delivery is disabled.
func (c EmailConfig) NewMailer() (mail.Mailer, error) {
	switch c.DeliveryMode() {
	case DeliverySMTP:
		return mail.NewSMTPMailer(c.SMTPSettings())
	case DeliveryKafka:
		mailer, err := mail.NewKafkaMailer(c.KafkaSettings())
		if err != nil {
			return nil, err
		}
		return mailer, nil
	case DeliveryDisabled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported email delivery %q", c.Delivery)
	}
}
