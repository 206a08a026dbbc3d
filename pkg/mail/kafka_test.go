package mail

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type queueReader struct {
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *queueReader) Close() error { return nil }

type stubMailer struct {
	sent     []Message
	failures int
}

func (m *stubMailer) Send(_ context.Context, msg Message) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNewKafkaMailerValidatesSettings(t *testing.T) {
	_, err := NewKafkaMailer(KafkaSettings{Topic: "mail"})
	require.ErrorContains(t, err, "broker")

	_, err = NewKafkaMailer(KafkaSettings{Brokers: []string{"localhost:9092"}})
	require.ErrorContains(t, err, "topic")
}

func TestKafkaMailerPublishesEvent(t *testing.T) {
	writer := &recordingWriter{}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mailer := &KafkaMailer{writer: writer, now: func() time.Time { return fixed }}

	err := mailer.Send(context.Background(), Message{
		To:      []string{" Ada@Example.com ", ""},
		Subject: "Verify",
		Body:    "code",
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	require.Equal(t, "ada@example.com", string(writer.messages[0].Key))

	var event Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	require.NotEmpty(t, event.ID)
	require.Equal(t, fixed, event.QueuedAt)
	require.Equal(t, []string{"Ada@Example.com"}, event.Message.To)
}

func TestKafkaMailerRequiresRecipient(t *testing.T) {
	mailer := &KafkaMailer{writer: &recordingWriter{}, now: time.Now}
	require.Error(t, mailer.Send(context.Background(), Message{Subject: "x"}))
}

func TestKafkaMailerWrapsWriterError(t *testing.T) {
	mailer := &KafkaMailer{writer: &recordingWriter{err: errors.New("leader not available")}, now: time.Now}
	err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.ErrorContains(t, err, "leader not available")
}

func encodeEvent(t *testing.T, offset int64, to string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(Event{ID: "evt", Message: Message{To: []string{to}, Subject: "s", Body: "b"}})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: payload}
}

func TestConsumerDeliversAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &queueReader{cancel: cancel, messages: []kafka.Message{
		encodeEvent(t, 1, "a@example.com"),
		{Offset: 2, Value: []byte("not json")},
		encodeEvent(t, 3, "b@example.com"),
	}}
	delivery := &stubMailer{failures: 1}
	core, logs := observer.New(zap.InfoLevel)

	consumer := &Consumer{reader: reader, delivery: delivery, log: zap.New(core), attempts: 3, backoff: time.Millisecond}
	require.NoError(t, consumer.Run(ctx))

	require.Len(t, delivery.sent, 2)
	require.Equal(t, []int64{1, 2, 3}, reader.committed)
	require.Equal(t, 1, logs.FilterMessage("discarding malformed mail event").Len())
	require.Equal(t, 1, logs.FilterMessage("mail delivery attempt failed").Len())
}

func TestConsumerDropsAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &queueReader{cancel: cancel, messages: []kafka.Message{encodeEvent(t, 7, "a@example.com")}}
	delivery := &stubMailer{failures: 5}

	consumer := &Consumer{reader: reader, delivery: delivery, log: zap.NewNop(), attempts: 2, backoff: time.Millisecond}
	require.NoError(t, consumer.Run(ctx))

	require.Empty(t, delivery.sent)
	require.Equal(t, []int64{7}, reader.committed)
}
