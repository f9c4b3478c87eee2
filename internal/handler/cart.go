package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/aims-checkout/internal/domain/cart"
)

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				encodeProduct(e, p)
			}
		})
	})
}

// GetProduct returns one product with its live stock.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

// GetCart returns the cart with a live availability check.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c := h.session.Cart()
	unavailable, err := c.CheckAvailability(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK, unavailable)
}

// AddItem adds a product to the cart, merging with an existing line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID int64
		quantity  int
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Int64()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if productID <= 0 {
		respondError(w, r, badRequest("product_id must be positive"))
		return
	}

	if err := h.session.Cart().AddItem(r.Context(), productID, quantity); err != nil {
		respondError(w, r, err)
		return
	}
	h.writeCart(w, http.StatusCreated, nil)
}

// UpdateItem sets the quantity of a cart line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var quantity int
	err = decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		quantity, err = d.Int()
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.session.Cart().UpdateQuantity(r.Context(), productID, quantity); err != nil {
		respondError(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK, nil)
}

// RemoveItem deletes a cart line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.session.Cart().RemoveItem(productID); err != nil {
		respondError(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK, nil)
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, unavailable []cart.Unavailable) {
	lines := h.session.Cart().Lines()
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, lines, unavailable) })
}

func productIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid product id %q", raw)
	}
	return id, nil
}
