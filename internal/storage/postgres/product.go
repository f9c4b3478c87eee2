package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/aims-checkout/internal/domain/product"
)

const (
	mediaColumns = `id, title, category, type, price, quantity, weight, rush_supported, image_url`

	listMediaSQL    = `SELECT ` + mediaColumns + ` FROM media ORDER BY id`
	getMediaByIDSQL = `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`

	upsertMediaSQL = `INSERT INTO media (` + mediaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			type = EXCLUDED.type,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			weight = EXCLUDED.weight,
			rush_supported = EXCLUDED.rush_supported,
			image_url = EXCLUDED.image_url`

	syncMediaSequenceSQL = `SELECT setval(pg_get_serial_sequence('media', 'id'), COALESCE(MAX(id), 1)) FROM media`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository reads the media catalog.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns the whole catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listMediaSQL)
	if err != nil {
		return nil, fmt.Errorf("listing media: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product with its live stock level.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getMediaByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting media %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting media %d: %w", id, err)
	}
	return &p, nil
}

// Upsert writes products in one batch and keeps the ID sequence ahead of
// explicit IDs.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range products {
			batch.Queue(upsertMediaSQL,
				p.ID, p.Title, p.Category, p.Type, p.Price, p.Quantity, p.Weight, p.RushSupported, p.ImageURL,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting media: %w", err)
		}
		if _, err := tx.Exec(ctx, syncMediaSequenceSQL); err != nil {
			return fmt.Errorf("syncing media sequence: %w", err)
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Category, &p.Type, &p.Price,
		&p.Quantity, &p.Weight, &p.RushSupported, &p.ImageURL,
	)
	return p, err
}
