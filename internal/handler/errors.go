package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/aims-checkout/internal/catalog"
	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/checkout"
	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/domain/product"
)

// errorStatus maps domain errors to HTTP status codes. Unknown errors are
// internal.
func errorStatus(err error) int {
	var (
		badReq     *badRequestError
		transition *checkout.IllegalTransitionError
	)
	switch {
	case errors.As(err, &badReq),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, invoice.ErrInvalidDelivery):
		return http.StatusBadRequest
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, invoice.ErrNotFound),
		errors.Is(err, checkout.ErrNoInvoice):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, invoice.ErrAvailabilityConflict),
		errors.Is(err, checkout.ErrPaymentInProgress),
		errors.Is(err, checkout.ErrAlreadyPaid),
		errors.Is(err, invoice.ErrStatusConflict),
		errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, invoice.ErrEmptyCart),
		errors.Is(err, pricing.ErrRushOrderUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"code":..,"message":..} plus details carried by typed
// domain errors.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}

	var (
		oos      *cart.OutOfStockError
		conflict *invoice.AvailabilityConflictError
		rush     *pricing.RushOrderUnsupportedError
	)
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			switch {
			case errors.As(err, &oos):
				e.Field("unavailable", func(e *jx.Encoder) {
					encodeUnavailable(e, []cart.Unavailable{{
						ProductID: oos.ProductID, Requested: oos.Requested, Available: oos.Available,
					}})
				})
			case errors.As(err, &conflict):
				e.Field("unavailable", func(e *jx.Encoder) { encodeUnavailable(e, conflict.Items) })
			case errors.As(err, &rush):
				e.Field("product_ids", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, id := range rush.ProductIDs {
							e.Int64(id)
						}
					})
				})
			}
		})
	})
}
