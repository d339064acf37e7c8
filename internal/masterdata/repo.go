package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads product and warehouse rows from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct fetches one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, selling_price, min_stock_level, batch_tracked, created_at
FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.SellingPrice, &p.MinStockLevel, &p.BatchTracked, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetWarehouse fetches one warehouse by id.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, allow_negative_stock, created_at
FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.AllowNegativeStock, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// AllowNegativeStock resolves the warehouse negative-stock policy.
func (r *Repository) AllowNegativeStock(ctx context.Context, warehouseID int64) (bool, error) {
	w, err := r.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return false, err
	}
	return w.AllowNegativeStock, nil
}

// BatchTracked reports whether the product is batch tracked.
func (r *Repository) BatchTracked(ctx context.Context, productID int64) (bool, error) {
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return p.BatchTracked, nil
}
