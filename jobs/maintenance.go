package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/alerting"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MaintenanceJob purges aged notifications and spent idempotency keys.
type MaintenanceJob struct {
	Alerts               *alerting.Service
	Idempotency          *shared.IdempotencyStore
	IdempotencyRetention time.Duration
	Logger               *slog.Logger
	Metrics              *observability.JobMetrics
}

// NewMaintenanceJob initialises the cleanup handler.
func NewMaintenanceJob(alerts *alerting.Service, idem *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger, metrics *observability.JobMetrics) *MaintenanceJob {
	return &MaintenanceJob{Alerts: alerts, Idempotency: idem, IdempotencyRetention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *MaintenanceJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Alerts == nil {
		return errors.New("maintenance: handler not configured")
	}
	tracker := j.Metrics.Track(TaskMaintenanceCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	purged, err := j.Alerts.PurgeExpired(ctx)
	if err != nil {
		j.Logger.Error("purge notifications", slog.Any("error", err))
		return err
	}
	if err := j.Idempotency.Cleanup(ctx, j.IdempotencyRetention); err != nil {
		j.Logger.Error("cleanup idempotency keys", slog.Any("error", err))
		return err
	}
	j.Logger.Info("maintenance complete", slog.Int64("notifications_purged", purged))
	return nil
}
