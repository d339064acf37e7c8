package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/alerting"
	"github.com/meridian-erp/meridian-erp/internal/observability"
)

// AlertSweepJob runs the low-stock and expiry sweeps. The two scans are
// independent reads, so they run concurrently.
type AlertSweepJob struct {
	Alerts  *alerting.Service
	Logger  *slog.Logger
	Metrics *observability.JobMetrics
}

// NewAlertSweepJob initialises the alert sweep handler.
func NewAlertSweepJob(alerts *alerting.Service, logger *slog.Logger, metrics *observability.JobMetrics) *AlertSweepJob {
	return &AlertSweepJob{Alerts: alerts, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *AlertSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Alerts == nil {
		return errors.New("alert sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAlertSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload AlertSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	var lowStock, expiry alerting.SweepReport
	g, ctx := errgroup.WithContext(ctx)
	if !payload.SkipLowStock {
		g.Go(func() error {
			var err error
			lowStock, err = j.Alerts.SweepLowStock(ctx)
			return err
		})
	}
	if !payload.SkipExpiry {
		g.Go(func() error {
			var err error
			expiry, err = j.Alerts.SweepExpiry(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		j.Logger.Error("alert sweep", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAlertsRaised("low_stock", lowStock.Raised)
	j.Metrics.AddAlertsRaised("expiry", expiry.Raised)
	j.Logger.Info("alert sweep complete",
		slog.Int("low_stock_scanned", lowStock.Scanned),
		slog.Int("low_stock_raised", lowStock.Raised),
		slog.Int("expiry_scanned", expiry.Scanned),
		slog.Int("expiry_raised", expiry.Raised))
	return nil
}
