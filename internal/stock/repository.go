package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxStore wraps an open pgx transaction. Composite repositories embed
// the result so transfers and receipts share the ledger's transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (r *Repository) GetPosition(ctx context.Context, warehouseID, productID int64) (Position, error) {
	var pos Position
	err := r.pool.QueryRow(ctx, `SELECT warehouse_id, product_id, quantity, avg_cost, last_updated
FROM stock_positions WHERE warehouse_id=$1 AND product_id=$2`, warehouseID, productID).
		Scan(&pos.WarehouseID, &pos.ProductID, &pos.Quantity, &pos.AvgCost, &pos.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{}, ErrPositionNotFound
		}
		return Position{}, err
	}
	return pos, nil
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.WarehouseID != 0 {
		where += " AND warehouse_id=" + arg(filter.WarehouseID)
	}
	if filter.ProductID != 0 {
		where += " AND product_id=" + arg(filter.ProductID)
	}
	if filter.Type != "" {
		where += " AND movement_type=" + arg(string(filter.Type))
	}
	if filter.ReferenceType != "" {
		where += " AND reference_type=" + arg(string(filter.ReferenceType))
	}
	if !filter.From.IsZero() {
		where += " AND created_at >= " + arg(filter.From)
	}
	if !filter.To.IsZero() {
		where += " AND created_at <= " + arg(filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT id, warehouse_id, product_id, movement_type, quantity, previous_quantity, new_quantity, unit_cost, reference_type, reference_id, note, created_by, created_at
FROM stock_transactions ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []Transaction{}
	for rows.Next() {
		var t Transaction
		var referenceID, note *string
		var createdBy *int64
		if err := rows.Scan(&t.ID, &t.WarehouseID, &t.ProductID, &t.Type, &t.Quantity, &t.PreviousQuantity, &t.NewQuantity, &t.UnitCost, &t.ReferenceType, &referenceID, &note, &createdBy, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		if referenceID != nil {
			t.ReferenceID = *referenceID
		}
		if note != nil {
			t.Note = *note
		}
		if createdBy != nil {
			t.CreatedBy = *createdBy
		}
		entries = append(entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ProductID != 0 {
		where += " AND product_id=" + arg(filter.ProductID)
	}
	if filter.Status != "" {
		where += " AND status=" + arg(string(filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM batches "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT id, product_id, batch_number, quantity, remaining_quantity, purchase_price, expiry_date, manufacturing_date, supplier, status, created_at
FROM batches ` + where + ` ORDER BY expiry_date ASC NULLS LAST, id ASC LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *Repository) MarkExpiredBatches(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE batches SET status=$1
WHERE status=$2 AND remaining_quantity > 0 AND expiry_date IS NOT NULL AND expiry_date < $3`,
		string(BatchExpired), string(BatchActive), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *txStore) GetPositionForUpdate(ctx context.Context, warehouseID, productID int64) (Position, error) {
	var pos Position
	err := s.tx.QueryRow(ctx, `SELECT warehouse_id, product_id, quantity, avg_cost, last_updated
FROM stock_positions WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
		Scan(&pos.WarehouseID, &pos.ProductID, &pos.Quantity, &pos.AvgCost, &pos.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{}, ErrPositionNotFound
		}
		return Position{}, err
	}
	return pos, nil
}

func (s *txStore) UpsertPosition(ctx context.Context, pos Position) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_positions (warehouse_id, product_id, quantity, avg_cost, last_updated)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET quantity=EXCLUDED.quantity, avg_cost=EXCLUDED.avg_cost, last_updated=EXCLUDED.last_updated`,
		pos.WarehouseID, pos.ProductID, pos.Quantity, pos.AvgCost, pos.LastUpdated)
	return err
}

func (s *txStore) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_transactions
(warehouse_id, product_id, movement_type, quantity, previous_quantity, new_quantity, unit_cost, reference_type, reference_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		t.WarehouseID, t.ProductID, string(t.Type), t.Quantity, t.PreviousQuantity, t.NewQuantity, t.UnitCost, string(t.ReferenceType), t.ReferenceID, t.Note, t.CreatedBy, t.CreatedAt).Scan(&id)
	return id, err
}

func (s *txStore) ListConsumableBatches(ctx context.Context, productID int64, now time.Time) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, product_id, batch_number, quantity, remaining_quantity, purchase_price, expiry_date, manufacturing_date, supplier, status, created_at
FROM batches
WHERE product_id=$1 AND status=$2 AND remaining_quantity > 0 AND (expiry_date IS NULL OR expiry_date >= $3)
ORDER BY expiry_date ASC NULLS LAST, id ASC
FOR UPDATE`, productID, string(BatchActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *txStore) UpdateBatchConsumption(ctx context.Context, batchID, remaining int64, status BatchStatus) error {
	_, err := s.tx.Exec(ctx, `UPDATE batches SET remaining_quantity=$1, status=$2 WHERE id=$3`,
		remaining, string(status), batchID)
	return err
}

func (s *txStore) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO batches
(product_id, batch_number, quantity, remaining_quantity, purchase_price, expiry_date, manufacturing_date, supplier, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		b.ProductID, b.BatchNumber, b.Quantity, b.RemainingQuantity, b.PurchasePrice, nullTime(b.ExpiryDate), nullTime(b.ManufacturingDate), b.Supplier, string(b.Status), b.CreatedAt).Scan(&id)
	return id, err
}

func (s *txStore) BatchNumberExists(ctx context.Context, productID int64, number string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE product_id=$1 AND batch_number=$2)`, productID, number).Scan(&exists)
	return exists, err
}

func scanBatch(rows pgx.Rows) (Batch, error) {
	var b Batch
	var expiry, manufactured *time.Time
	if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.Quantity, &b.RemainingQuantity, &b.PurchasePrice, &expiry, &manufactured, &b.Supplier, &b.Status, &b.CreatedAt); err != nil {
		return Batch{}, err
	}
	if expiry != nil {
		b.ExpiryDate = *expiry
	}
	if manufactured != nil {
		b.ManufacturingDate = *manufactured
	}
	return b, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
