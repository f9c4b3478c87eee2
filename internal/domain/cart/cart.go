// Package cart holds the session shopping cart: line items with price
// snapshots, validated against live catalog stock.
package cart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/aims-checkout/internal/domain/product"
)

// Sentinel errors for cart mutations.
var (
	ErrOutOfStock      = errors.New("out of stock")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrLineNotFound    = errors.New("product is not in cart")
)

// OutOfStockError reports a requested quantity that exceeds live stock.
type OutOfStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d: requested %d, only %d in stock", e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// StockReader reads live catalog rows. product.Repository satisfies it.
type StockReader interface {
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

// Line is a single cart entry. UnitPrice is captured when the product is
// added and does not follow later catalog price changes.
type Line struct {
	ProductID     int64
	Title         string
	Quantity      int
	UnitPrice     int64
	Weight        decimal.Decimal
	RushSupported bool
}

// Amount returns UnitPrice × Quantity.
func (l Line) Amount() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Unavailable describes a line whose requested quantity is no longer in
// stock. Available is zero when the product has left the catalog.
type Unavailable struct {
	ProductID int64
	Requested int
	Available int
}

// Cart is a session-scoped collection of lines. It is safe for concurrent use.
type Cart struct {
	stock StockReader

	mu    sync.Mutex
	lines []Line
}

// New returns an empty cart that validates quantities against stock.
func New(stock StockReader) *Cart {
	return &Cart{stock: stock}
}

// AddItem adds qty units of a product, merging with an existing line for the
// same product. Stock is read at call time.
func (c *Cart) AddItem(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p, err := c.stock.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "get product %d", productID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	want := qty
	if i >= 0 {
		want += c.lines[i].Quantity
	}
	if want > p.Quantity {
		return &OutOfStockError{ProductID: productID, Requested: want, Available: p.Quantity}
	}

	if i >= 0 {
		c.lines[i].Quantity = want
		return nil
	}
	c.lines = append(c.lines, Line{
		ProductID:     p.ID,
		Title:         p.Title,
		Quantity:      qty,
		UnitPrice:     p.Price,
		Weight:        p.Weight,
		RushSupported: p.RushSupported,
	})
	return nil
}

// UpdateQuantity replaces the quantity of an existing line.
func (c *Cart) UpdateQuantity(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !c.contains(productID) {
		return ErrLineNotFound
	}
	p, err := c.stock.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "get product %d", productID)
	}
	if qty > p.Quantity {
		return &OutOfStockError{ProductID: productID, Requested: qty, Available: p.Quantity}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The line may have been removed while stock was being read.
	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines[i].Quantity = qty
	return nil
}

// RemoveItem deletes the line for productID.
func (c *Cart) RemoveItem(productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	return nil
}

// Subtotal returns Σ UnitPrice × Quantity over the current lines.
func (c *Cart) Subtotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return subtotal(c.lines)
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.lines)
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.lines)
}

// Clear removes every line. Clearing an empty cart is a no-op.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = nil
}

// Deduct subtracts paid quantities per product and drops lines that reach
// zero. Lines added after the invoice was built stay in the cart.
func (c *Cart) Deduct(quantities map[int64]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = slices.DeleteFunc(c.lines, func(l Line) bool {
		return l.Quantity <= quantities[l.ProductID]
	})
	for i := range c.lines {
		c.lines[i].Quantity -= quantities[c.lines[i].ProductID]
	}
}

// CheckAvailability re-reads stock for every line and returns the lines that
// can no longer be fulfilled.
func (c *Cart) CheckAvailability(ctx context.Context) ([]Unavailable, error) {
	return c.availability(ctx, c.Lines())
}

// Snapshot re-checks availability and copies the lines while holding the cart
// lock, so no mutation can interleave between the check and the copy.
func (c *Cart) Snapshot(ctx context.Context) ([]Line, []Unavailable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	unavailable, err := c.availability(ctx, c.lines)
	if err != nil {
		return nil, nil, err
	}
	return slices.Clone(c.lines), unavailable, nil
}

func (c *Cart) availability(ctx context.Context, lines []Line) ([]Unavailable, error) {
	var out []Unavailable
	for _, l := range lines {
		available := 0
		p, err := c.stock.GetByID(ctx, l.ProductID)
		switch {
		case errors.Is(err, product.ErrNotFound):
		case err != nil:
			return nil, errors.Wrapf(err, "get product %d", l.ProductID)
		default:
			available = p.Quantity
		}
		if l.Quantity > available {
			out = append(out, Unavailable{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	return out, nil
}

func (c *Cart) contains(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.indexOf(productID) >= 0
}

// indexOf must be called with c.mu held.
func (c *Cart) indexOf(productID int64) int {
	return slices.IndexFunc(c.lines, func(l Line) bool { return l.ProductID == productID })
}

// Subtotal returns Σ UnitPrice × Quantity over lines.
func Subtotal(lines []Line) int64 {
	return subtotal(lines)
}

func subtotal(lines []Line) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.Amount()
	}
	return sum
}
