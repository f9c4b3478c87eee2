// Package pricing derives delivery fees from cart contents, the delivery
// province and the rush-order flag. Amounts are integer VND; weights are
// decimal kilograms.
package pricing

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/aims-checkout/internal/domain/cart"
)

// ErrRushOrderUnsupported is returned when rush delivery is requested for a
// cart containing at least one product that cannot be rushed.
var ErrRushOrderUnsupported = errors.New("rush order is not supported")

// RushOrderUnsupportedError lists the products blocking a rush order.
type RushOrderUnsupportedError struct {
	ProductIDs []int64
}

func (e *RushOrderUnsupportedError) Error() string {
	return fmt.Sprintf("rush order is not supported for products %v", e.ProductIDs)
}

func (e *RushOrderUnsupportedError) Unwrap() error { return ErrRushOrderUnsupported }

// Config holds the shipping tiers.
type Config struct {
	// MajorProvinces get the cheaper inner-city tier. Matching ignores case
	// and surrounding whitespace.
	MajorProvinces []string

	MajorBaseFee    int64
	MajorBaseWeight decimal.Decimal
	OtherBaseFee    int64
	OtherBaseWeight decimal.Decimal

	// StepFee is charged for every started StepWeight above the base weight.
	StepFee    int64
	StepWeight decimal.Decimal

	// MinFee is the floor for the shipping fee, rush surcharge excluded.
	MinFee int64

	// RushFeePerItem is charged per unit when every line supports rush delivery.
	RushFeePerItem int64
}

// DefaultConfig returns the AIMS delivery rules.
func DefaultConfig() Config {
	return Config{
		MajorProvinces:  []string{"Hà Nội", "Hồ Chí Minh"},
		MajorBaseFee:    22_000,
		MajorBaseWeight: decimal.NewFromInt(3),
		OtherBaseFee:    30_000,
		OtherBaseWeight: decimal.RequireFromString("0.5"),
		StepFee:         2_500,
		StepWeight:      decimal.RequireFromString("0.5"),
		MinFee:          22_000,
		RushFeePerItem:  10_000,
	}
}

// Fees is the result of pricing a cart. Shipping and RushSurcharge are kept
// apart for display; invoices charge their sum as the shipping fee.
type Fees struct {
	Shipping      int64
	RushSurcharge int64
}

// Total returns Shipping + RushSurcharge.
func (f Fees) Total() int64 {
	return f.Shipping + f.RushSurcharge
}

// Engine computes fees from a fixed Config.
type Engine struct {
	cfg   Config
	major map[string]struct{}
}

// NewEngine creates an Engine for the given tiers.
func NewEngine(cfg Config) *Engine {
	major := make(map[string]struct{}, len(cfg.MajorProvinces))
	for _, p := range cfg.MajorProvinces {
		major[normalizeProvince(p)] = struct{}{}
	}
	return &Engine{cfg: cfg, major: major}
}

// ComputeFees prices delivery of lines to province. A rush order is
// all-or-nothing: one line without rush support rejects the whole request.
func (e *Engine) ComputeFees(lines []cart.Line, province string, rushOrder bool) (Fees, error) {
	var fees Fees

	if rushOrder {
		var blocked []int64
		var units int64
		for _, l := range lines {
			if !l.RushSupported {
				blocked = append(blocked, l.ProductID)
			}
			units += int64(l.Quantity)
		}
		if len(blocked) > 0 {
			return Fees{}, &RushOrderUnsupportedError{ProductIDs: blocked}
		}
		fees.RushSurcharge = units * e.cfg.RushFeePerItem
	}

	fees.Shipping = e.shipping(TotalWeight(lines), province)
	return fees, nil
}

// IsMajorProvince reports whether province is billed at the major tier.
func (e *Engine) IsMajorProvince(province string) bool {
	_, ok := e.major[normalizeProvince(province)]
	return ok
}

func (e *Engine) shipping(weight decimal.Decimal, province string) int64 {
	baseFee, baseWeight := e.cfg.OtherBaseFee, e.cfg.OtherBaseWeight
	if e.IsMajorProvince(province) {
		baseFee, baseWeight = e.cfg.MajorBaseFee, e.cfg.MajorBaseWeight
	}

	fee := baseFee
	if extra := weight.Sub(baseWeight); extra.IsPositive() && e.cfg.StepWeight.IsPositive() {
		steps := extra.Div(e.cfg.StepWeight).Ceil().IntPart()
		fee += steps * e.cfg.StepFee
	}
	return max(fee, e.cfg.MinFee)
}

// TotalWeight returns Σ weight × quantity in kilograms.
func TotalWeight(lines []cart.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Weight.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

func normalizeProvince(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
