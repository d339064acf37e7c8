package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// BatchExpiryJob marks batches past their expiry date as expired so FEFO
// consumption skips them before the next alert sweep sees them.
type BatchExpiryJob struct {
	Stock   *stock.Service
	Logger  *slog.Logger
	Metrics *observability.JobMetrics
}

// NewBatchExpiryJob initialises the batch expiry handler.
func NewBatchExpiryJob(stockService *stock.Service, logger *slog.Logger, metrics *observability.JobMetrics) *BatchExpiryJob {
	return &BatchExpiryJob{Stock: stockService, Logger: logger, Metrics: metrics}
}

// Handle executes the expiry flip.
func (j *BatchExpiryJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Stock == nil {
		return errors.New("batch expiry: handler not configured")
	}
	tracker := j.Metrics.Track(TaskBatchExpiry)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	marked, err := j.Stock.SweepExpiredBatches(ctx)
	if err != nil {
		j.Logger.Error("batch expiry sweep", slog.Any("error", err))
		return err
	}
	j.Logger.Info("batch expiry sweep complete", slog.Int64("expired", marked))
	return nil
}
