package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/checkout"
	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/pkg/httpmiddleware"
)

// Quote previews the delivery fees of the current cart.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	province := q.Get("province")
	if province == "" {
		respondError(w, r, badRequest("province is required"))
		return
	}
	rush := false
	if raw := q.Get("rush_order"); raw != "" {
		var err error
		if rush, err = strconv.ParseBool(raw); err != nil {
			respondError(w, r, badRequest("invalid rush_order %q", raw))
			return
		}
	}

	lines := h.session.Cart().Lines()
	if len(lines) == 0 {
		respondError(w, r, invoice.ErrEmptyCart)
		return
	}
	fees, err := h.quoter.ComputeFees(lines, province, rush)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeFees(e, fees, cart.Subtotal(lines)) })
}

// PlaceOrder builds an invoice from the cart and the delivery details.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var d invoice.Delivery
	err := decodeObject(w, r, func(dec *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			d.Name, err = dec.Str()
		case "phone":
			d.Phone, err = dec.Str()
		case "address":
			d.Address, err = dec.Str()
		case "province":
			d.Province, err = dec.Str()
		case "instructions":
			d.Instructions, err = dec.Str()
		case "rush_order":
			d.RushOrder, err = dec.Bool()
		default:
			err = dec.Skip()
		}
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	inv, err := h.session.PlaceOrder(r.Context(), d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeInvoice(e, inv) })
}

// Pay returns the gateway URL the customer must be redirected to.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	payURL, err := h.session.Dispatch(r.Context(), httpmiddleware.ClientIP(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	inv, _ := h.session.Current()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("invoice_id", func(e *jx.Encoder) { e.Str(inv.ID) })
			e.Field("attempt", func(e *jx.Encoder) { e.Int(inv.Attempts) })
			e.Field("payment_url", func(e *jx.Encoder) { e.Str(payURL) })
		})
	})
}

// CurrentInvoice returns the session's pending invoice.
func (h *Handler) CurrentInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.session.Current()
	if !ok {
		respondError(w, r, checkout.ErrNoInvoice)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeInvoice(e, &inv) })
}

// GetInvoice returns a stored invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.session.Invoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeInvoice(e, inv) })
}

// PaymentReturn reconciles the gateway redirect. A rejected payment is a
// normal outcome and is reported with 200 and paid=false.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	callback := *h.returnURL
	callback.RawQuery = r.URL.RawQuery

	res, err := h.session.HandleCallback(r.Context(), callback.String())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("paid", func(e *jx.Encoder) { e.Bool(res.Paid()) })
			e.Field("duplicate", func(e *jx.Encoder) { e.Bool(res.Duplicate) })
			if res.LateSuccess {
				e.Field("late_success", func(e *jx.Encoder) { e.Bool(true) })
			}
			if res.Reason != nil {
				e.Field("reason", func(e *jx.Encoder) { e.Str(res.Reason.Error()) })
			}
			e.Field("invoice", func(e *jx.Encoder) { encodeInvoice(e, &res.Invoice) })
		})
	})
}
