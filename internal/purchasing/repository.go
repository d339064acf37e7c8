package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Repository persists purchase orders in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction
// shared with the stock ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{TxStore: stock.NewTxStore(tx), tx: tx})
	})
}

const orderColumns = `id, number, supplier_id, warehouse_id, status, tax_rate, freight, discount, sub_total, grand_total, amount_paid, created_by, created_at, received_at`

func (s *txStore) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	po, err := scanOrder(s.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := scanOrderItems(ctx, s.tx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

func (s *txStore) InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, warehouse_id, status, tax_rate, freight, discount, sub_total, grand_total, amount_paid, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		po.Number, po.SupplierID, po.WarehouseID, string(po.Status), po.TaxRate, po.Freight, po.Discount, po.SubTotal, po.GrandTotal, po.AmountPaid, po.CreatedBy, po.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase order: %w", err)
	}
	return id, nil
}

func (s *txStore) InsertOrderItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, product_id, ordered_qty, received_qty, unit_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		item.OrderID, item.ProductID, item.OrderedQty, item.ReceivedQty, item.UnitPrice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase order item: %w", err)
	}
	return id, nil
}

func (s *txStore) UpdateOrder(ctx context.Context, po PurchaseOrder) error {
	tag, err := s.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, amount_paid=$2, received_at=$3 WHERE id=$4`,
		string(po.Status), po.AmountPaid, po.ReceivedAt, po.ID)
	if err != nil {
		return fmt.Errorf("update purchase order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *txStore) UpdateOrderItem(ctx context.Context, item Item) error {
	tag, err := s.tx.Exec(ctx, `UPDATE purchase_order_items SET received_qty=$1, unit_price=$2 WHERE id=$3`,
		item.ReceivedQty, item.UnitPrice, item.ID)
	if err != nil {
		return fmt.Errorf("update purchase order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *txStore) InsertPayment(ctx context.Context, orderID int64, amount decimal.Decimal, at time.Time) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO po_payments (order_id, amount, created_at) VALUES ($1,$2,$3)`, orderID, amount, at)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := scanOrderItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

func (r *Repository) ListOrders(ctx context.Context, status Status, page, perPage int) ([]PurchaseOrder, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchase_orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.WarehouseID, &po.Status, &po.TaxRate, &po.Freight, &po.Discount, &po.SubTotal, &po.GrandTotal, &po.AmountPaid, &po.CreatedBy, &po.CreatedAt, &po.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrderItems(ctx context.Context, q querier, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, ordered_qty, received_qty, unit_price
FROM purchase_order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.OrderedQty, &item.ReceivedQty, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
