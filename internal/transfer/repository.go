package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	stock.TxStore
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. The
// tx store carries the stock ledger's tx store so movements land in the
// same transaction as the transfer rows.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{TxStore: stock.NewTxStore(tx), tx: tx})
	})
}

func (s *txStore) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, []Item, error) {
	var t Transfer
	err := s.tx.QueryRow(ctx, `SELECT id, number, from_warehouse_id, to_warehouse_id, status, total_items, total_quantity, total_value, created_by, created_at, completed_at
FROM transfers WHERE id=$1 FOR UPDATE`, id).
		Scan(&t.ID, &t.Number, &t.FromWarehouseID, &t.ToWarehouseID, &t.Status, &t.TotalItems, &t.TotalQuantity, &t.TotalValue, &t.CreatedBy, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, nil, ErrNotFound
		}
		return Transfer{}, nil, err
	}
	items, err := scanItems(ctx, s.tx, id)
	if err != nil {
		return Transfer{}, nil, err
	}
	return t, items, nil
}

func (s *txStore) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO transfers (number, from_warehouse_id, to_warehouse_id, status, total_items, total_quantity, total_value, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		t.Number, t.FromWarehouseID, t.ToWarehouseID, string(t.Status), t.TotalItems, t.TotalQuantity, t.TotalValue, t.CreatedBy, t.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transfer: %w", err)
	}
	return id, nil
}

func (s *txStore) InsertItem(ctx context.Context, item Item) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO transfer_items (transfer_id, product_id, quantity) VALUES ($1,$2,$3)`,
		item.TransferID, item.ProductID, item.Quantity)
	if err != nil {
		return fmt.Errorf("insert transfer item: %w", err)
	}
	return nil
}

func (s *txStore) UpdateTransfer(ctx context.Context, t Transfer) error {
	tag, err := s.tx.Exec(ctx, `UPDATE transfers SET status=$1, total_value=$2, completed_at=$3 WHERE id=$4`,
		string(t.Status), t.TotalValue, t.CompletedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, []Item, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `SELECT id, number, from_warehouse_id, to_warehouse_id, status, total_items, total_quantity, total_value, created_by, created_at, completed_at
FROM transfers WHERE id=$1`, id).
		Scan(&t.ID, &t.Number, &t.FromWarehouseID, &t.ToWarehouseID, &t.Status, &t.TotalItems, &t.TotalQuantity, &t.TotalValue, &t.CreatedBy, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, nil, ErrNotFound
		}
		return Transfer{}, nil, err
	}
	items, err := scanItems(ctx, r.pool, id)
	if err != nil {
		return Transfer{}, nil, err
	}
	return t, items, nil
}

func (r *Repository) ListTransfers(ctx context.Context, status Status, page, perPage int) ([]Transfer, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transfers "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT id, number, from_warehouse_id, to_warehouse_id, status, total_items, total_quantity, total_value, created_by, created_at, completed_at
FROM transfers %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Transfer{}
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Number, &t.FromWarehouseID, &t.ToWarehouseID, &t.Status, &t.TotalItems, &t.TotalQuantity, &t.TotalValue, &t.CreatedBy, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanItems(ctx context.Context, q querier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity FROM transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
