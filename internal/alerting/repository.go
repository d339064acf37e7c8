package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists notifications and runs the sweep queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertIfNoUnread creates a notification unless an unread one for the
// same (type, entity type, entity id) triple already exists. Returns true
// when a row was inserted. The NOT EXISTS guard and the insert run as one
// statement, so concurrent sweeps cannot double-insert.
func (r *Repository) InsertIfNoUnread(ctx context.Context, n Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO notifications (type, priority, title, message, entity_type, entity_id, is_read, created_at, expires_at)
SELECT $1, $2, $3, $4, $5, $6, FALSE, $7, $8
WHERE NOT EXISTS (
    SELECT 1 FROM notifications
    WHERE type=$1 AND entity_type=$5 AND entity_id=$6 AND is_read=FALSE
)`,
		string(n.Type), string(n.Priority), n.Title, n.Message, n.EntityType, n.EntityID, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListLowStock returns every position at or below its product's minimum
// stock level.
func (r *Repository) ListLowStock(ctx context.Context) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT sp.warehouse_id, sp.product_id, p.name, sp.quantity, p.min_stock_level
FROM stock_positions sp
JOIN products p ON p.id = sp.product_id
WHERE sp.quantity <= p.min_stock_level
ORDER BY sp.quantity ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.WarehouseID, &row.ProductID, &row.ProductName, &row.Quantity, &row.MinStockLevel); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListExpiringBatches returns active batches with stock remaining whose
// expiry falls on or before the horizon. Already-expired batches are
// included; the sweep grades them separately.
func (r *Repository) ListExpiringBatches(ctx context.Context, horizon time.Time) ([]ExpiringBatchRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.batch_number, b.product_id, p.name, b.remaining_quantity, b.expiry_date
FROM batches b
JOIN products p ON p.id = b.product_id
WHERE b.status IN ('active', 'expired')
  AND b.remaining_quantity > 0
  AND b.expiry_date IS NOT NULL
  AND b.expiry_date <= $1
ORDER BY b.expiry_date ASC`, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiringBatchRow
	for rows.Next() {
		var row ExpiringBatchRow
		if err := rows.Scan(&row.BatchID, &row.BatchNumber, &row.ProductID, &row.ProductName, &row.RemainingQuantity, &row.ExpiryDate); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// List returns notifications, unread first, newest within each group.
func (r *Repository) List(ctx context.Context, unreadOnly bool, page, perPage int) ([]Notification, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if unreadOnly {
		where += " AND is_read=FALSE"
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT id, type, priority, title, message, entity_type, entity_id, is_read, created_at, expires_at
FROM notifications %s ORDER BY is_read ASC, created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Priority, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &n.IsRead, &n.CreatedAt, &n.ExpiresAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// MarkRead flips one notification to read.
func (r *Repository) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flips every unread notification. Returns the number flipped.
func (r *Repository) MarkAllRead(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read=TRUE WHERE is_read=FALSE`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts unread notifications.
func (r *Repository) UnreadCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE is_read=FALSE`).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	return n, nil
}

// PurgeExpired deletes notifications past their retention window.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
