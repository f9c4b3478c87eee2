package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestEvent_EncodeDecode(t *testing.T) {
	e := Event{
		Type:       InvoiceRejected,
		InvoiceID:  "inv-1",
		Status:     "REJECTED",
		Amount:     32_700,
		Attempt:    2,
		Reason:     "customer cancelled the transaction",
		OccurredAt: time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC),
	}

	got, err := Decode(e.Encode())
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEvent_EncodeOmitsEmptyReason(t *testing.T) {
	e := Event{Type: InvoicePaid, InvoiceID: "inv-1", OccurredAt: time.Unix(0, 0)}
	assert.NotContains(t, string(e.Encode()), "reason")
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	got, err := Decode([]byte(`{"type":"invoice.paid","extra":{"a":[1,2]},"invoice_id":"x","occurred_at":"2025-06-15T05:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, got.Type)
	assert.Equal(t, "x", got.InvoiceID)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"amount":"many"}`))
	require.Error(t, err)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "invoices"}, zap.NewNop())
	require.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	require.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "invoices"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{w: w, timeout: time.Second}

	e := Event{Type: InvoicePaid, InvoiceID: "inv-9", Amount: 100, OccurredAt: time.Unix(1700000000, 0)}
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("inv-9"), msg.Key)
	assert.Equal(t, e.Encode(), msg.Value)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, []byte("invoice.paid"), msg.Headers[0].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	p := &KafkaPublisher{w: &mockWriter{err: errors.New("broker down")}, timeout: time.Second}
	err := p.Publish(context.Background(), Event{Type: InvoicePaid, InvoiceID: "inv-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inv-9")
}
