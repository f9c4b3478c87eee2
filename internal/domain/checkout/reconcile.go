package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/internal/domain/payment"
)

// Sentinel errors for rejected callbacks.
var (
	ErrReferenceMismatch = errors.New("order reference does not match invoice")
	ErrAmountMismatch    = errors.New("amount does not match invoice total")
	ErrGatewayRejected   = errors.New("payment rejected by gateway")
	ErrPaymentTimeout    = errors.New("payment timed out")
)

// ReferenceMismatchError is a callback for another order.
type ReferenceMismatchError struct {
	Want, Got string
}

func (e *ReferenceMismatchError) Error() string {
	return fmt.Sprintf("order reference %q does not match invoice %q", e.Got, e.Want)
}

func (e *ReferenceMismatchError) Unwrap() error { return ErrReferenceMismatch }

// AmountMismatchError is a callback whose amount differs from the invoice
// total. Both amounts are in the gateway scale.
type AmountMismatchError struct {
	Want, Got int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("gateway amount %d does not match expected %d", e.Got, e.Want)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// GatewayRejectedError carries a non-success response code.
type GatewayRejectedError struct {
	Code string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway response %s: %s", e.Code, payment.DescribeResponse(e.Code))
}

func (e *GatewayRejectedError) Unwrap() error { return ErrGatewayRejected }

// Decide returns nil when cb proves that inv was paid in full, otherwise the
// reason the attempt is rejected. A non-nil parseErr always rejects.
func Decide(inv *invoice.Invoice, cb *payment.Callback, parseErr error) error {
	switch {
	case parseErr != nil:
		return parseErr
	case cb == nil:
		return &payment.ParseError{Reason: "empty callback"}
	case cb.OrderRef != inv.ID:
		return &ReferenceMismatchError{Want: inv.ID, Got: cb.OrderRef}
	case cb.Amount != payment.GatewayAmount(inv.TotalAmount):
		return &AmountMismatchError{Want: payment.GatewayAmount(inv.TotalAmount), Got: cb.Amount}
	case !cb.Succeeded():
		return &GatewayRejectedError{Code: cb.ResponseCode}
	default:
		return nil
	}
}

// outcome labels a decision for metrics.
func outcome(reason error) string {
	switch {
	case reason == nil:
		return "paid"
	case errors.Is(reason, payment.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(reason, payment.ErrParse):
		return "parse_error"
	case errors.Is(reason, ErrReferenceMismatch):
		return "reference_mismatch"
	case errors.Is(reason, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(reason, ErrGatewayRejected):
		return "gateway_rejected"
	case errors.Is(reason, ErrPaymentTimeout):
		return "timeout"
	default:
		return "rejected"
	}
}
