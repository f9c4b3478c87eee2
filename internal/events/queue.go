package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Queue.Publish when the buffer is full.
var ErrQueueFull = errors.New("event queue is full")

// Queue decouples callers from a slow Publisher. Publish only enqueues; Run
// delivers events in order on a single goroutine.
type Queue struct {
	next  Publisher
	lg    *zap.Logger
	ch    chan Event
	drain time.Duration
}

var _ Publisher = (*Queue)(nil)

// NewQueue buffers up to size events for next.
func NewQueue(next Publisher, size int, lg *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		next:  next,
		lg:    lg,
		ch:    make(chan Event, size),
		drain: 5 * time.Second,
	}
}

// Publish enqueues e without blocking.
func (q *Queue) Publish(_ context.Context, e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return errors.Wrapf(ErrQueueFull, "drop %s for invoice %s", e.Type, e.InvoiceID)
	}
}

// Run delivers queued events until ctx is done, then flushes what is still
// buffered within the drain timeout.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case e := <-q.ch:
			q.deliver(ctx, e)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.drain)
			defer cancel()
			for {
				select {
				case e := <-q.ch:
					q.deliver(flushCtx, e)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) deliver(ctx context.Context, e Event) {
	if err := q.next.Publish(ctx, e); err != nil {
		q.lg.Error("Deliver invoice event",
			zap.String("invoice_id", e.InvoiceID),
			zap.String("event", string(e.Type)),
			zap.Error(err),
		)
	}
}
