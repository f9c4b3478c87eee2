package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	mu   sync.Mutex
	ids  []string
	err  error
	gate chan struct{}
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, e.InvoiceID)
	return r.err
}

func (r *recordingPublisher) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestQueue_PublishDoesNotWaitForDelivery(t *testing.T) {
	next := &recordingPublisher{gate: make(chan struct{})}
	q := NewQueue(next, 2, zap.NewNop())

	require.NoError(t, q.Publish(context.Background(), Event{InvoiceID: "a"}))
	require.NoError(t, q.Publish(context.Background(), Event{InvoiceID: "b"}))
	err := q.Publish(context.Background(), Event{Type: InvoicePaid, InvoiceID: "c"})
	require.ErrorIs(t, err, ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	close(next.gate)
	require.Eventually(t, func() bool { return len(next.published()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, next.published())

	cancel()
	require.NoError(t, <-done)
}

func TestQueue_FlushesOnShutdown(t *testing.T) {
	next := &recordingPublisher{}
	q := NewQueue(next, 4, zap.NewNop())
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(context.Background(), Event{InvoiceID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	assert.Equal(t, []string{"a", "b", "c"}, next.published())
}

func TestQueue_LogsDeliveryErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	q := NewQueue(&recordingPublisher{err: errors.New("broker down")}, 1, zap.New(core))
	require.NoError(t, q.Publish(context.Background(), Event{Type: InvoicePaid, InvoiceID: "inv-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	entries := logs.FilterMessage("Deliver invoice event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "inv-1", entries[0].ContextMap()["invoice_id"])
}
