package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// KafkaSettings configure the queue used to hand messages to the mail worker.
type KafkaSettings struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

func (s KafkaSettings) validate() error {
	if len(s.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// Event is the payload published for each queued message.
type Event struct {
	ID       string    `json:"id"`
	Message  Message   `json:"message"`
	QueuedAt time.Time `json:"queued_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMailer publishes messages to a Kafka topic instead of delivering them directly.
type KafkaMailer struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaMailer constructs a Mailer backed by a kafka-go Writer.
func NewKafkaMailer(cfg KafkaSettings) (*KafkaMailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := &kafka.Transport{DialTimeout: cfg.Timeout}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.UseTLS {
		transport.TLS = &tls.Config{}
	}

	return &KafkaMailer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.Timeout,
			Transport:    transport,
		},
		now: time.Now,
	}, nil
}

// Send serialises msg and writes it to the topic, keyed by the first recipient.
func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	recipients, err := parseRecipients(msg.To)
	if err != nil {
		return fmt.Errorf("kafka mailer: %w", err)
	}
	msg.To = make([]string, len(recipients))
	for i, addr := range recipients {
		msg.To[i] = addr.Address
	}

	payload, err := json.Marshal(Event{ID: uuid.NewString(), Message: msg, QueuedAt: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("kafka mailer: encode event: %w", err)
	}

	if err := m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strings.ToLower(recipients[0].Address)),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("kafka mailer: publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (m *KafkaMailer) Close() error {
	return m.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads queued events and delivers them through another Mailer.
type Consumer struct {
	reader   messageReader
	delivery Mailer
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

// NewConsumer builds a consumer group reader for cfg.Topic.
func NewConsumer(cfg KafkaSettings, delivery Mailer, log *zap.Logger) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, errors.New("kafka consumer: delivery mailer is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		cfg.GroupID = "visera-mailer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	dialer := &kafka.Dialer{Timeout: cfg.Timeout, DualStack: true}
	if cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.UseTLS {
		dialer.TLS = &tls.Config{}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	return &Consumer{reader: reader, delivery: delivery, log: log, attempts: 3, backoff: time.Second}, nil
}

// Run consumes until ctx is cancelled. Every fetched event is committed once handled, even
// when delivery keeps failing, so a single bad message cannot stall the partition.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka consumer: fetch: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("mail delivery failed, dropping event", zap.Int64("offset", msg.Offset), zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka consumer: commit: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Error("discarding malformed mail event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = c.delivery.Send(ctx, event.Message); err == nil {
			break
		}
		c.log.Warn("mail delivery attempt failed", zap.String("event_id", event.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	c.log.Info("mail delivered", zap.String("event_id", event.ID), zap.Strings("to", event.Message.To))
	return nil
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
