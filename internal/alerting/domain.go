package alerting

import (
	"errors"
	"time"
)

// Type enumerates notification categories.
type Type string

const (
	TypeLowStock      Type = "LOW_STOCK"
	TypeExpiryWarning Type = "EXPIRY_WARNING"
	TypeStockout      Type = "STOCKOUT"
	TypeBatchExpiry   Type = "BATCH_EXPIRY"
	TypeSystemAlert   Type = "SYSTEM_ALERT"
)

// Priority enumerates notification urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification is one alert raised by a sweep. At most one unread
// notification exists per (type, entity type, entity id) triple.
type Notification struct {
	ID         int64     `json:"id"`
	Type       Type      `json:"type"`
	Priority   Priority  `json:"priority"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LowStockRow is a ledger position at or below its product's minimum.
type LowStockRow struct {
	WarehouseID   int64
	ProductID     int64
	ProductName   string
	Quantity      int64
	MinStockLevel int64
}

// ExpiringBatchRow is an active batch inside the expiry horizon.
type ExpiringBatchRow struct {
	BatchID           int64
	BatchNumber       string
	ProductID         int64
	ProductName       string
	RemainingQuantity int64
	ExpiryDate        time.Time
}

// SweepReport summarises one sweep run.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Raised  int `json:"raised"`
}

// ErrNotFound indicates a missing notification.
var ErrNotFound = errors.New("alerting: not found")
