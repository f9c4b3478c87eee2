// Package checkout drives a shopping session from cart to reconciled
// payment. A Session owns one cart and at most one pending invoice, and it
// is the only writer of that invoice's status.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/internal/domain/payment"
	"github.com/xenking/aims-checkout/internal/events"
)

// Sentinel errors for session operations.
var (
	ErrNoInvoice         = errors.New("no invoice in progress")
	ErrPaymentInProgress = errors.New("payment is awaiting gateway callback")
	ErrAlreadyPaid       = errors.New("invoice is already paid")
)

// IllegalTransitionError reports a status change the state machine forbids.
type IllegalTransitionError struct {
	From, To invoice.Status
}

func (e *IllegalTransitionError) Error() string {
	return "illegal invoice transition " + e.From.String() + " -> " + e.To.String()
}

// Builder creates invoices from a cart snapshot.
type Builder interface {
	Build(ctx context.Context, c invoice.Snapshotter, d invoice.Delivery) (*invoice.Invoice, error)
}

// Gateway is the payment adapter.
type Gateway interface {
	BuildPaymentRequestURL(inv *invoice.Invoice, clientIP string) (string, error)
	ParseCallback(raw string) (*payment.Callback, error)
}

// Options are the optional collaborators of a Session.
type Options struct {
	// PaymentTimeout bounds how long an invoice may await a callback.
	PaymentTimeout time.Duration
	Publisher      events.Publisher
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Now            func() time.Time
}

// Result is the outcome of one callback.
type Result struct {
	Invoice invoice.Invoice
	// Reason is nil when the invoice was paid.
	Reason error
	// Duplicate is set when the invoice had already left AWAITING_CALLBACK
	// and the callback changed nothing.
	Duplicate bool
	// LateSuccess is set on a duplicate that still proved payment of an
	// attempt that had been rejected.
	LateSuccess bool
}

// Paid reports whether the invoice is PAID after the callback.
func (r *Result) Paid() bool {
	return r.Invoice.Status == invoice.StatusPaid
}

// Session is a single customer's checkout. All methods are safe for
// concurrent use; transitions are serialized so each is persisted once.
type Session struct {
	cart     *cart.Cart
	builder  Builder
	gateway  Gateway
	invoices invoice.Repository
	events   events.Publisher
	timeout  time.Duration
	now      func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter

	mu      sync.Mutex
	current *invoice.Invoice
}

// NewSession creates a Session around c.
func NewSession(c *cart.Cart, b Builder, g Gateway, invoices invoice.Repository, opts Options) (*Session, error) {
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 20 * time.Minute
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	outcomes, err := opts.MeterProvider.Meter("checkout").Int64Counter("checkout.reconciliations",
		metric.WithDescription("Invoice reconciliation outcomes"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reconciliation counter")
	}

	return &Session{
		cart:     c,
		builder:  b,
		gateway:  g,
		invoices: invoices,
		events:   opts.Publisher,
		timeout:  opts.PaymentTimeout,
		now:      opts.Now,
		tracer:   opts.TracerProvider.Tracer("checkout"),
		outcomes: outcomes,
	}, nil
}

// Cart returns the session cart.
func (s *Session) Cart() *cart.Cart {
	return s.cart
}

// Current returns a copy of the pending invoice.
func (s *Session) Current() (invoice.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return invoice.Invoice{}, false
	}
	return *s.current, true
}

// Invoice loads any stored invoice.
func (s *Session) Invoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// PlaceOrder builds and stores an invoice for the current cart. It replaces
// an unpaid invoice unless a payment for it is in flight.
func (s *Session) PlaceOrder(ctx context.Context, d invoice.Delivery) (*invoice.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	var raised []events.Event
	defer func() { s.publish(ctx, raised) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == invoice.StatusAwaitingCallback {
		return nil, ErrPaymentInProgress
	}

	inv, err := s.builder.Build(ctx, s.cart, d)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, "build invoice")
	}
	if err := s.invoices.Save(ctx, inv); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, "save invoice")
	}
	s.current = inv
	span.SetAttributes(attribute.String("invoice.id", inv.ID), attribute.Int64("invoice.total", inv.TotalAmount))

	zctx.From(ctx).Info("Invoice created",
		zap.String("invoice_id", inv.ID),
		zap.Int64("subtotal", inv.Subtotal),
		zap.Int64("shipping_fee", inv.ShippingFee),
		zap.Int64("total", inv.TotalAmount),
	)
	raised = append(raised, s.event(events.InvoiceCreated, inv, nil))

	cp := *inv
	return &cp, nil
}

// Dispatch issues a payment request URL for the pending invoice and moves it
// to AWAITING_CALLBACK. A REJECTED invoice is retried as a new attempt. An
// invoice already awaiting its callback gets the URL again without a
// transition.
func (s *Session) Dispatch(ctx context.Context, clientIP string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Dispatch")
	defer span.End()

	var raised []events.Event
	defer func() { s.publish(ctx, raised) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.current
	if inv == nil {
		return "", ErrNoInvoice
	}
	span.SetAttributes(attribute.String("invoice.id", inv.ID))

	switch inv.Status {
	case invoice.StatusPaid:
		return "", ErrAlreadyPaid
	case invoice.StatusAwaitingCallback:
		return s.gateway.BuildPaymentRequestURL(inv, clientIP)
	}
	if !invoice.CanTransition(inv.Status, invoice.StatusAwaitingCallback) {
		return "", &IllegalTransitionError{From: inv.Status, To: invoice.StatusAwaitingCallback}
	}

	next := inv.Apply(invoice.StatusUpdate{
		Status:    invoice.StatusAwaitingCallback,
		Attempts:  inv.Attempts + 1,
		UpdatedAt: s.now(),
	})
	payURL, err := s.gateway.BuildPaymentRequestURL(&next, clientIP)
	if err != nil {
		return "", errors.Wrap(err, "build payment request")
	}
	if err := s.persist(ctx, inv.Status, &next); err != nil {
		return "", err
	}
	s.current = &next

	zctx.From(ctx).Info("Payment dispatched",
		zap.String("invoice_id", next.ID),
		zap.Int("attempt", next.Attempts),
	)
	raised = append(raised, s.event(events.PaymentDispatched, &next, nil))
	return payURL, nil
}

// HandleCallback reconciles a gateway return URL against the pending
// invoice. The invoice becomes PAID only when the callback is well formed,
// references the invoice, carries exactly its total and reports success;
// otherwise it becomes REJECTED. On PAID the invoiced quantities leave the
// cart.
//
// Callbacks that arrive after the invoice left AWAITING_CALLBACK are no-ops,
// with one exception: a success for an attempt that expired without any
// gateway answer, and was not retried since, still settles the invoice.
func (s *Session) HandleCallback(ctx context.Context, rawURL string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandleCallback")
	defer span.End()

	cb, parseErr := s.gateway.ParseCallback(rawURL)

	var raised []events.Event
	defer func() { s.publish(ctx, raised) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.current
	if inv == nil {
		return nil, ErrNoInvoice
	}
	span.SetAttributes(attribute.String("invoice.id", inv.ID))
	lg := zctx.From(ctx).With(zap.String("invoice_id", inv.ID))

	reason := Decide(inv, cb, parseErr)
	switch {
	case inv.Status == invoice.StatusAwaitingCallback:
	case reason == nil && inv.SettlesLate():
		lg.Warn("Settling timed out invoice", zap.Int("attempt", inv.Attempts))
	case reason == nil && inv.Status == invoice.StatusRejected:
		lg.Error("Payment succeeded for a rejected attempt",
			zap.Int("attempt", inv.Attempts),
			zap.String("transaction_no", cb.TransactionNo),
			zap.String("failure_reason", inv.FailureReason),
		)
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "late_success")))
		raised = append(raised, s.event(events.LateSuccess, inv, nil))
		return &Result{Invoice: *inv, Duplicate: true, LateSuccess: true}, nil
	default:
		lg.Info("Ignoring callback for settled invoice", zap.Stringer("status", inv.Status))
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "duplicate")))
		return &Result{Invoice: *inv, Duplicate: true}, nil
	}

	update := invoice.StatusUpdate{
		Status:    invoice.StatusPaid,
		Attempts:  inv.Attempts,
		UpdatedAt: s.now(),
	}
	if reason != nil {
		update.Status = invoice.StatusRejected
		update.FailureReason = reason.Error()
	} else {
		update.Payment = invoice.Payment{
			BankCode:      cb.BankCode,
			BankTranNo:    cb.BankTranNo,
			TransactionNo: cb.TransactionNo,
			PayDate:       cb.PayDate,
		}
		if paidAt, err := cb.PaidAt(); err == nil {
			update.Payment.PaidAt = paidAt
		} else {
			lg.Warn("Unreadable gateway pay date", zap.String("pay_date", cb.PayDate), zap.Error(err))
		}
	}

	next := inv.Apply(update)
	if err := s.persist(ctx, inv.Status, &next); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.current = &next
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(reason))))
	span.SetAttributes(attribute.String("invoice.status", next.Status.String()))

	if reason == nil {
		s.cart.Deduct(invoicedQuantities(next.Lines))
		lg.Info("Invoice paid",
			zap.Int64("total", next.TotalAmount),
			zap.String("transaction_no", next.Payment.TransactionNo),
		)
		raised = append(raised, s.event(events.InvoicePaid, &next, nil))
	} else {
		lg.Warn("Invoice rejected", zap.Error(reason))
		raised = append(raised, s.event(events.InvoiceRejected, &next, reason))
	}

	return &Result{Invoice: next, Reason: reason}, nil
}

// ExpireStale rejects the pending invoice when it has awaited a callback for
// longer than the payment timeout, then sweeps stored invoices abandoned by
// earlier sessions. It returns the number of invoices expired.
func (s *Session) ExpireStale(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ExpireStale")
	defer span.End()

	var raised []events.Event
	defer func() { s.publish(ctx, raised) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.timeout)
	var expired int64

	if inv := s.current; inv != nil && inv.Status == invoice.StatusAwaitingCallback && !inv.UpdatedAt.After(cutoff) {
		next := inv.Apply(invoice.StatusUpdate{
			Status:        invoice.StatusRejected,
			Attempts:      inv.Attempts,
			FailureReason: ErrPaymentTimeout.Error(),
			TimedOut:      true,
			UpdatedAt:     now,
		})
		if err := s.persist(ctx, inv.Status, &next); err != nil {
			return 0, err
		}
		s.current = &next
		expired++
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(ErrPaymentTimeout))))
		zctx.From(ctx).Warn("Invoice payment timed out", zap.String("invoice_id", next.ID))
		raised = append(raised, s.event(events.InvoiceRejected, &next, ErrPaymentTimeout))
	}

	n, err := s.invoices.ExpireAwaiting(ctx, cutoff, ErrPaymentTimeout.Error())
	if err != nil {
		return expired, errors.Wrap(err, "expire stored invoices")
	}
	return expired + n, nil
}

// persist stores the transition of inv out of status from. When the stored
// invoice has moved on, the session adopts the stored state.
func (s *Session) persist(ctx context.Context, from invoice.Status, inv *invoice.Invoice) error {
	err := s.invoices.UpdateStatus(ctx, inv.ID, from, invoice.StatusUpdate{
		Status:        inv.Status,
		Attempts:      inv.Attempts,
		FailureReason: inv.FailureReason,
		TimedOut:      inv.TimedOut,
		Payment:       inv.Payment,
		UpdatedAt:     inv.UpdatedAt,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, invoice.ErrStatusConflict) {
		if stored, getErr := s.invoices.GetByID(ctx, inv.ID); getErr == nil {
			s.current = stored
		}
	}
	return errors.Wrapf(err, "persist invoice %s as %s", inv.ID, inv.Status)
}

func (s *Session) event(typ events.Type, inv *invoice.Invoice, reason error) events.Event {
	e := events.Event{
		Type:       typ,
		InvoiceID:  inv.ID,
		Status:     inv.Status.String(),
		Amount:     inv.TotalAmount,
		Attempt:    inv.Attempts,
		OccurredAt: s.now(),
	}
	if reason != nil {
		e.Reason = reason.Error()
	}
	return e
}

// publish runs after s.mu is released. Delivery is best effort; the
// transitions are already stored.
func (s *Session) publish(ctx context.Context, raised []events.Event) {
	for _, e := range raised {
		if err := s.events.Publish(ctx, e); err != nil {
			zctx.From(ctx).Error("Publish invoice event",
				zap.String("invoice_id", e.InvoiceID),
				zap.String("event", string(e.Type)),
				zap.Error(err),
			)
		}
	}
}

func invoicedQuantities(lines []invoice.Line) map[int64]int {
	out := make(map[int64]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}
