// Package handler exposes the cart, checkout and gateway return endpoints
// over HTTP.
package handler

import (
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/checkout"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/domain/product"
	"github.com/xenking/aims-checkout/pkg/httpmiddleware"
)

// Quoter previews delivery fees for the current cart.
type Quoter interface {
	ComputeFees(lines []cart.Line, province string, rushOrder bool) (pricing.Fees, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ReturnURL is the gateway return address. Its path is served by the
	// handler and its scheme and host are used to rebuild callback URLs.
	ReturnURL string
	// CheckoutMiddleware wraps the order and payment routes only.
	CheckoutMiddleware []httpmiddleware.Middleware
}

// Handler serves the checkout API for one session.
type Handler struct {
	session  *checkout.Session
	products product.Repository
	quoter   Quoter

	returnURL  *url.URL
	checkoutMW []httpmiddleware.Middleware
}

// New constructs a Handler.
func New(cfg Config, session *checkout.Session, products product.Repository, quoter Quoter) (*Handler, error) {
	ret, err := url.Parse(cfg.ReturnURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse return URL")
	}
	if ret.Path == "" {
		ret.Path = "/"
	}
	return &Handler{
		session:    session,
		products:   products,
		quoter:     quoter,
		returnURL:  ret,
		checkoutMW: cfg.CheckoutMiddleware,
	}, nil
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{productID}", h.UpdateItem)
			r.Delete("/items/{productID}", h.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/quote", h.Quote)
			r.Get("/current", h.CurrentInvoice)
			r.Group(func(r chi.Router) {
				for _, mw := range h.checkoutMW {
					r.Use(mw)
				}
				r.Post("/", h.PlaceOrder)
				r.Post("/pay", h.Pay)
			})
		})

		r.Get("/invoices/{invoiceID}", h.GetInvoice)
	})

	r.Get(h.returnURL.Path, h.PaymentReturn)
}

// Router returns a new chi router with every endpoint mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

