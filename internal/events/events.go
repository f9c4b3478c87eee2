// Package events publishes invoice lifecycle notifications.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Type names an invoice lifecycle event.
type Type string

const (
	InvoiceCreated    Type = "invoice.created"
	PaymentDispatched Type = "invoice.payment_dispatched"
	InvoicePaid       Type = "invoice.paid"
	InvoiceRejected   Type = "invoice.rejected"
	// LateSuccess is a verified successful payment for an attempt that had
	// already been rejected. It needs manual reconciliation.
	LateSuccess Type = "invoice.late_success"
)

// Event is a single invoice transition.
type Event struct {
	Type       Type
	InvoiceID  string
	Status     string
	Amount     int64
	Attempt    int
	Reason     string
	OccurredAt time.Time
}

// Encode renders the event as a JSON object.
func (e Event) Encode() []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("invoice_id", func(enc *jx.Encoder) { enc.Str(e.InvoiceID) })
		enc.Field("status", func(enc *jx.Encoder) { enc.Str(e.Status) })
		enc.Field("amount", func(enc *jx.Encoder) { enc.Int64(e.Amount) })
		enc.Field("attempt", func(enc *jx.Encoder) { enc.Int(e.Attempt) })
		if e.Reason != "" {
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
		}
		enc.Field("occurred_at", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}

// Decode parses an event produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (Event, error) {
	var e Event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			var s string
			s, err = d.Str()
			e.Type = Type(s)
		case "invoice_id":
			e.InvoiceID, err = d.Str()
		case "status":
			e.Status, err = d.Str()
		case "amount":
			e.Amount, err = d.Int64()
		case "attempt":
			e.Attempt, err = d.Int()
		case "reason":
			e.Reason, err = d.Str()
		case "occurred_at":
			var s string
			if s, err = d.Str(); err == nil {
				e.OccurredAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	return e, nil
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
