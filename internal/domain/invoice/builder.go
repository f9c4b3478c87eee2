package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
)

// Sentinel errors for invoice building.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrAvailabilityConflict = errors.New("cart items are no longer available")
	ErrInvalidDelivery      = errors.New("invalid delivery info")
)

// AvailabilityConflictError lists the lines that failed the stock re-check.
type AvailabilityConflictError struct {
	Items []cart.Unavailable
}

func (e *AvailabilityConflictError) Error() string {
	ids := make([]string, len(e.Items))
	for i, it := range e.Items {
		ids[i] = fmt.Sprintf("%d (requested %d, available %d)", it.ProductID, it.Requested, it.Available)
	}
	return "unavailable products: " + strings.Join(ids, ", ")
}

func (e *AvailabilityConflictError) Unwrap() error { return ErrAvailabilityConflict }

// InvalidDeliveryError names a missing delivery field.
type InvalidDeliveryError struct {
	Field string
}

func (e *InvalidDeliveryError) Error() string {
	return fmt.Sprintf("delivery %s is required", e.Field)
}

func (e *InvalidDeliveryError) Unwrap() error { return ErrInvalidDelivery }

// Snapshotter atomically re-checks stock and copies cart lines.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]cart.Line, []cart.Unavailable, error)
}

// Pricer computes delivery fees for a set of lines.
type Pricer interface {
	ComputeFees(lines []cart.Line, province string, rushOrder bool) (pricing.Fees, error)
}

// Builder turns a cart into an Invoice.
type Builder struct {
	pricer Pricer
	newID  func() string
	now    func() time.Time
}

// NewBuilder creates a Builder that prices invoices with pricer.
func NewBuilder(pricer Pricer) *Builder {
	return &Builder{
		pricer: pricer,
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
}

// Build snapshots the cart, prices the snapshot and returns a CREATED
// invoice. Fees are computed on the same lines that are invoiced, so a cart
// mutated after the snapshot cannot change the total.
func (b *Builder) Build(ctx context.Context, c Snapshotter, d Delivery) (*Invoice, error) {
	if err := validateDelivery(d); err != nil {
		return nil, err
	}

	lines, unavailable, err := c.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	if len(unavailable) > 0 {
		return nil, &AvailabilityConflictError{Items: unavailable}
	}

	fees, err := b.pricer.ComputeFees(lines, d.Province, d.RushOrder)
	if err != nil {
		return nil, err
	}

	invLines := make([]Line, len(lines))
	for i, l := range lines {
		invLines[i] = Line{
			ProductID: l.ProductID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}

	subtotal := cart.Subtotal(lines)
	shipping := fees.Total()
	now := b.now()

	return &Invoice{
		ID:            b.newID(),
		Lines:         invLines,
		Subtotal:      subtotal,
		ShippingFee:   shipping,
		RushSurcharge: fees.RushSurcharge,
		TotalAmount:   subtotal + shipping,
		Delivery:      d,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func validateDelivery(d Delivery) error {
	for _, f := range []struct{ name, value string }{
		{"name", d.Name},
		{"phone", d.Phone},
		{"address", d.Address},
		{"province", d.Province},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &InvalidDeliveryError{Field: f.name}
		}
	}
	return nil
}
