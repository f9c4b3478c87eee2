package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/aims-checkout/internal/domain/cart"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/domain/product"
)

// --- Mock implementations ---

type mockStock struct {
	byID map[int64]product.Product
}

func (m *mockStock) GetByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type mockSnapshotter struct {
	lines       []cart.Line
	unavailable []cart.Unavailable
	err         error
}

func (m *mockSnapshotter) Snapshot(context.Context) ([]cart.Line, []cart.Unavailable, error) {
	return m.lines, m.unavailable, m.err
}

// --- Helpers ---

func testDelivery(province string, rush bool) Delivery {
	return Delivery{
		Name:      "Nguyen Van A",
		Phone:     "0901234567",
		Address:   "1 Dai Co Viet",
		Province:  province,
		RushOrder: rush,
	}
}

func newTestBuilder() *Builder {
	b := NewBuilder(pricing.NewEngine(pricing.DefaultConfig()))
	b.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return b
}

func newCartWith(t *testing.T, stock *mockStock, items map[int64]int) *cart.Cart {
	t.Helper()
	c := cart.New(stock)
	for id, qty := range items {
		require.NoError(t, c.AddItem(context.Background(), id, qty))
	}
	return c
}

// --- Tests ---

func TestBuild_Scenario(t *testing.T) {
	stock := &mockStock{byID: map[int64]product.Product{
		1: {ID: 1, Title: "Abbey Road", Price: 100, Quantity: 10, Weight: decimal.RequireFromString("0.4")},
	}}
	c := newCartWith(t, stock, map[int64]int{1: 2})

	inv, err := newTestBuilder().Build(context.Background(), c, testDelivery("remote", false))
	require.NoError(t, err)

	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, StatusCreated, inv.Status)
	assert.Equal(t, int64(200), inv.Subtotal)
	assert.Equal(t, int64(32_500), inv.ShippingFee)
	assert.Zero(t, inv.RushSurcharge)
	assert.Equal(t, inv.Subtotal+inv.ShippingFee, inv.TotalAmount)
	assert.Equal(t, []Line{{ProductID: 1, Title: "Abbey Road", Quantity: 2, UnitPrice: 100}}, inv.Lines)
}

func TestBuild_SnapshotIsIndependentOfCart(t *testing.T) {
	stock := &mockStock{byID: map[int64]product.Product{
		1: {ID: 1, Price: 100, Quantity: 10, Weight: decimal.RequireFromString("0.4")},
	}}
	c := newCartWith(t, stock, map[int64]int{1: 2})

	inv, err := newTestBuilder().Build(context.Background(), c, testDelivery("Hà Nội", false))
	require.NoError(t, err)
	total := inv.TotalAmount

	require.NoError(t, c.UpdateQuantity(context.Background(), 1, 7))
	c.Clear()

	assert.Equal(t, 2, inv.Lines[0].Quantity)
	assert.Equal(t, total, inv.TotalAmount)
}

func TestBuild_UniqueIDs(t *testing.T) {
	stock := &mockStock{byID: map[int64]product.Product{
		1: {ID: 1, Price: 100, Quantity: 10, Weight: decimal.RequireFromString("0.4")},
	}}
	c := newCartWith(t, stock, map[int64]int{1: 1})
	b := NewBuilder(pricing.NewEngine(pricing.DefaultConfig()))

	seen := make(map[string]struct{})
	for range 100 {
		inv, err := b.Build(context.Background(), c, testDelivery("Hà Nội", false))
		require.NoError(t, err)
		_, dup := seen[inv.ID]
		require.False(t, dup, "duplicate invoice id %s", inv.ID)
		seen[inv.ID] = struct{}{}
	}
}

func TestBuild_RushOrder(t *testing.T) {
	stock := &mockStock{byID: map[int64]product.Product{
		1: {ID: 1, Price: 100, Quantity: 10, Weight: decimal.RequireFromString("0.4"), RushSupported: true},
		2: {ID: 2, Price: 300, Quantity: 10, Weight: decimal.RequireFromString("0.4"), RushSupported: false},
	}}

	t.Run("supported", func(t *testing.T) {
		c := newCartWith(t, stock, map[int64]int{1: 2})
		inv, err := newTestBuilder().Build(context.Background(), c, testDelivery("Hà Nội", true))
		require.NoError(t, err)
		assert.Equal(t, int64(20_000), inv.RushSurcharge)
		assert.Equal(t, int64(42_000), inv.ShippingFee)
		assert.Equal(t, int64(42_200), inv.TotalAmount)
	})

	t.Run("one unsupported line", func(t *testing.T) {
		c := newCartWith(t, stock, map[int64]int{1: 1, 2: 1})
		_, err := newTestBuilder().Build(context.Background(), c, testDelivery("Hà Nội", true))
		require.ErrorIs(t, err, pricing.ErrRushOrderUnsupported)
	})
}

func TestBuild_EmptyCart(t *testing.T) {
	c := cart.New(&mockStock{})
	_, err := newTestBuilder().Build(context.Background(), c, testDelivery("Hà Nội", false))
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestBuild_AvailabilityConflict(t *testing.T) {
	stock := &mockStock{byID: map[int64]product.Product{
		1: {ID: 1, Price: 100, Quantity: 3, Weight: decimal.RequireFromString("0.4")},
	}}
	c := newCartWith(t, stock, map[int64]int{1: 3})

	// Another buyer takes stock after the item was added.
	p := stock.byID[1]
	p.Quantity = 2
	stock.byID[1] = p

	_, err := newTestBuilder().Build(context.Background(), c, testDelivery("Hà Nội", false))
	require.ErrorIs(t, err, ErrAvailabilityConflict)

	var conflict *AvailabilityConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []cart.Unavailable{{ProductID: 1, Requested: 3, Available: 2}}, conflict.Items)
}

func TestBuild_SnapshotError(t *testing.T) {
	_, err := newTestBuilder().Build(context.Background(),
		&mockSnapshotter{err: errors.New("catalog unavailable")},
		testDelivery("Hà Nội", false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot cart")
}

func TestBuild_InvalidDelivery(t *testing.T) {
	snap := &mockSnapshotter{lines: []cart.Line{{ProductID: 1, Quantity: 1, UnitPrice: 10}}}

	d := testDelivery("Hà Nội", false)
	d.Phone = "  "
	_, err := newTestBuilder().Build(context.Background(), snap, d)

	var invalid *InvalidDeliveryError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "phone", invalid.Field)
	assert.ErrorIs(t, err, ErrInvalidDelivery)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusAwaitingCallback, true},
		{StatusCreated, StatusPaid, false},
		{StatusAwaitingCallback, StatusPaid, true},
		{StatusAwaitingCallback, StatusRejected, true},
		{StatusAwaitingCallback, StatusCreated, false},
		{StatusPaid, StatusRejected, false},
		{StatusPaid, StatusAwaitingCallback, false},
		{StatusRejected, StatusAwaitingCallback, true},
		{StatusRejected, StatusPaid, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusPaid.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.False(t, StatusAwaitingCallback.IsTerminal())
}
