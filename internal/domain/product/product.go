package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a media item in the catalog. Price is in VND and Weight
// is in kilograms.
type Product struct {
	ID            int64
	Title         string
	Category      string
	Type          string
	Price         int64
	Quantity      int
	Weight        decimal.Decimal
	RushSupported bool
	ImageURL      string
}

// Repository defines read operations for the product catalog. Quantity is the
// live stock level at the time of the call.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
}
