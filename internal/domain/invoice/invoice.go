package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an invoice does not exist.
	ErrNotFound = errors.New("invoice not found")
	// ErrStatusConflict is returned when a stored invoice is no longer in the
	// status a transition starts from.
	ErrStatusConflict = errors.New("invoice status changed concurrently")
)

// Status is the position of an invoice in the payment state machine.
type Status string

const (
	// StatusCreated is the initial status; no payment request was issued yet.
	StatusCreated Status = "CREATED"
	// StatusAwaitingCallback means the customer was sent to the gateway.
	StatusAwaitingCallback Status = "AWAITING_CALLBACK"
	// StatusPaid is terminal: the gateway confirmed the exact amount.
	StatusPaid Status = "PAID"
	// StatusRejected ends a payment attempt. The invoice is retained and can
	// be dispatched again.
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether the current payment attempt has finished.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether moving from one status to another is legal.
// REJECTED → AWAITING_CALLBACK is a user-initiated retry. A timed out
// invoice may also be settled late, see SettlesLate.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusAwaitingCallback
	case StatusAwaitingCallback:
		return to == StatusPaid || to == StatusRejected
	case StatusRejected:
		return to == StatusAwaitingCallback
	default:
		return false
	}
}

// Delivery holds the shipping details entered at checkout.
type Delivery struct {
	Name         string
	Phone        string
	Address      string
	Province     string
	Instructions string
	RushOrder    bool
}

// Line is an immutable copy of a cart line taken when the invoice was built.
type Line struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Amount returns UnitPrice × Quantity.
func (l Line) Amount() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Payment carries the gateway details of a successful payment.
type Payment struct {
	BankCode      string
	BankTranNo    string
	TransactionNo string
	PayDate       string
	// PaidAt is PayDate as an instant; zero when the gateway sent none.
	PaidAt time.Time
}

// Invoice is the authoritative record of a checkout attempt. Lines and
// amounts are fixed by the builder; TotalAmount = Subtotal + ShippingFee and
// ShippingFee already includes RushSurcharge.
type Invoice struct {
	ID            string
	Lines         []Line
	Subtotal      int64
	ShippingFee   int64
	RushSurcharge int64
	TotalAmount   int64
	Delivery      Delivery
	Status        Status
	Attempts      int
	FailureReason string
	// TimedOut marks a REJECTED invoice expired by the sweeper rather than
	// rejected by the gateway.
	TimedOut  bool
	Payment   Payment
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate is the mutable part of an invoice written on a transition.
type StatusUpdate struct {
	Status        Status
	Attempts      int
	FailureReason string
	TimedOut      bool
	Payment       Payment
	UpdatedAt     time.Time
}

// Apply returns a copy of inv with u applied. Lines are shared; they are
// never modified after build.
func (inv Invoice) Apply(u StatusUpdate) Invoice {
	inv.Status = u.Status
	inv.Attempts = u.Attempts
	inv.FailureReason = u.FailureReason
	inv.TimedOut = u.TimedOut
	inv.Payment = u.Payment
	inv.UpdatedAt = u.UpdatedAt
	return inv
}

// SettlesLate reports whether a successful callback may still mark inv PAID:
// its last attempt expired without any gateway answer and was not retried.
func (inv Invoice) SettlesLate() bool {
	return inv.Status == StatusRejected && inv.TimedOut
}

// Repository persists invoices and their status transitions.
type Repository interface {
	Save(ctx context.Context, inv *Invoice) error
	// UpdateStatus writes u only while the stored invoice is still in status
	// from, and returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, from Status, u StatusUpdate) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	// ExpireAwaiting moves every AWAITING_CALLBACK invoice last updated before
	// the cutoff to REJECTED with the given reason and marks it timed out.
	ExpireAwaiting(ctx context.Context, before time.Time, reason string) (int64, error)
}
