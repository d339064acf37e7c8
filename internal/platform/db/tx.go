package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConcurrentModification is returned when a transaction loses a
// serialization or deadlock race on a contended row. Callers are expected
// to re-validate input and retry; WithTx never retries on its own.
var ErrConcurrentModification = errors.New("platform/db: concurrent modification")

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Serialization failures surface as ErrConcurrentModification.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return translateConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := translateConflict(err); errors.Is(conflict, ErrConcurrentModification) {
			return conflict
		}
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Code)
		}
	}
	return err
}
