package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/invoice"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/domain/product"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeObject reads a JSON object body, calling fn for every field.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	d := jx.Decode(body, 1024)
	if err := d.Obj(fn); err != nil {
		return &badRequestError{msg: "invalid JSON body", err: err}
	}
	return nil
}

type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(p.Title) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("type", func(e *jx.Encoder) { e.Str(p.Type) })
		e.Field("price", func(e *jx.Encoder) { e.Int64(p.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(p.Quantity) })
		e.Field("weight", func(e *jx.Encoder) { e.Str(p.Weight.String()) })
		e.Field("rush_supported", func(e *jx.Encoder) { e.Bool(p.RushSupported) })
		e.Field("image_url", func(e *jx.Encoder) { e.Str(p.ImageURL) })
	})
}

func encodeCart(e *jx.Encoder, lines []cart.Line, unavailable []cart.Unavailable) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(l.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Int64(l.UnitPrice) })
						e.Field("amount", func(e *jx.Encoder) { e.Int64(l.Amount()) })
						e.Field("rush_supported", func(e *jx.Encoder) { e.Bool(l.RushSupported) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { e.Int64(cart.Subtotal(lines)) })
		e.Field("weight", func(e *jx.Encoder) { e.Str(pricing.TotalWeight(lines).String()) })
		if len(unavailable) > 0 {
			e.Field("unavailable", func(e *jx.Encoder) { encodeUnavailable(e, unavailable) })
		}
	})
}

func encodeUnavailable(e *jx.Encoder, items []cart.Unavailable) {
	e.Arr(func(e *jx.Encoder) {
		for _, u := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("product_id", func(e *jx.Encoder) { e.Int64(u.ProductID) })
				e.Field("requested", func(e *jx.Encoder) { e.Int(u.Requested) })
				e.Field("available", func(e *jx.Encoder) { e.Int(u.Available) })
			})
		}
	})
}

func encodeFees(e *jx.Encoder, f pricing.Fees, subtotal int64) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { e.Int64(subtotal) })
		e.Field("shipping", func(e *jx.Encoder) { e.Int64(f.Shipping) })
		e.Field("rush_surcharge", func(e *jx.Encoder) { e.Int64(f.RushSurcharge) })
		e.Field("shipping_fee", func(e *jx.Encoder) { e.Int64(f.Total()) })
		e.Field("total_amount", func(e *jx.Encoder) { e.Int64(subtotal + f.Total()) })
	})
}

func encodeInvoice(e *jx.Encoder, inv *invoice.Invoice) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(inv.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(inv.Status.String()) })
		e.Field("attempts", func(e *jx.Encoder) { e.Int(inv.Attempts) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range inv.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(l.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Int64(l.UnitPrice) })
						e.Field("amount", func(e *jx.Encoder) { e.Int64(l.Amount()) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { e.Int64(inv.Subtotal) })
		e.Field("shipping_fee", func(e *jx.Encoder) { e.Int64(inv.ShippingFee) })
		e.Field("rush_surcharge", func(e *jx.Encoder) { e.Int64(inv.RushSurcharge) })
		e.Field("total_amount", func(e *jx.Encoder) { e.Int64(inv.TotalAmount) })
		e.Field("delivery", func(e *jx.Encoder) {
			d := inv.Delivery
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(d.Name) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(d.Phone) })
				e.Field("address", func(e *jx.Encoder) { e.Str(d.Address) })
				e.Field("province", func(e *jx.Encoder) { e.Str(d.Province) })
				e.Field("instructions", func(e *jx.Encoder) { e.Str(d.Instructions) })
				e.Field("rush_order", func(e *jx.Encoder) { e.Bool(d.RushOrder) })
			})
		})
		if inv.FailureReason != "" {
			e.Field("failure_reason", func(e *jx.Encoder) { e.Str(inv.FailureReason) })
		}
		if inv.Status == invoice.StatusPaid {
			p := inv.Payment
			e.Field("payment", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("bank_code", func(e *jx.Encoder) { e.Str(p.BankCode) })
					e.Field("bank_tran_no", func(e *jx.Encoder) { e.Str(p.BankTranNo) })
					e.Field("transaction_no", func(e *jx.Encoder) { e.Str(p.TransactionNo) })
					e.Field("pay_date", func(e *jx.Encoder) { e.Str(p.PayDate) })
					if !p.PaidAt.IsZero() {
						e.Field("paid_at", func(e *jx.Encoder) { encodeTime(e, p.PaidAt) })
					}
				})
			})
		}
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, inv.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, inv.UpdatedAt) })
	})
}
