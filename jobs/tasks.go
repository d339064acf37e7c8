package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAlertSweep runs the low-stock and expiry notification sweeps.
	TaskAlertSweep = "alerts:sweep"
	// TaskBatchExpiry flips batches past their expiry date to expired.
	TaskBatchExpiry = "inventory:batch_expiry"
	// TaskMaintenanceCleanup purges aged notifications and idempotency keys.
	TaskMaintenanceCleanup = "maintenance:cleanup"
)

// AlertSweepPayload selects which sweeps to run. Zero value runs both.
type AlertSweepPayload struct {
	SkipLowStock bool `json:"skip_low_stock,omitempty"`
	SkipExpiry   bool `json:"skip_expiry,omitempty"`
}

// NewAlertSweepTask constructs the alert sweep task.
func NewAlertSweepTask(payload AlertSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertSweep, data), nil
}

// NewBatchExpiryTask constructs the batch expiry task.
func NewBatchExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskBatchExpiry, nil)
}

// NewMaintenanceCleanupTask constructs the cleanup task.
func NewMaintenanceCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskMaintenanceCleanup, nil)
}
