package transfer

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the transfer state machine.
//
//	pending -> approved -> in_transit -> completed
//	pending -> rejected
//	pending/approved -> cancelled
//
// completed, cancelled and rejected are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// Transfer moves quantities between two warehouses.
type Transfer struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	FromWarehouseID int64           `json:"from_warehouse_id"`
	ToWarehouseID   int64           `json:"to_warehouse_id"`
	Status          Status          `json:"status"`
	TotalItems      int             `json:"total_items"`
	TotalQuantity   int64           `json:"total_quantity"`
	TotalValue      decimal.Decimal `json:"total_value"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Item is one product line of a transfer.
type Item struct {
	ID         int64 `json:"id"`
	TransferID int64 `json:"transfer_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   int64 `json:"quantity"`
}

// CreateInput describes a transfer request.
type CreateInput struct {
	FromWarehouseID int64
	ToWarehouseID   int64
	Items           []ItemInput
	ActorID         int64
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
}

var (
	// ErrInvalidTransferState occurs when a transition violates the state machine.
	ErrInvalidTransferState = errors.New("transfer: invalid state transition")
	// ErrSameWarehouse occurs when source and destination match.
	ErrSameWarehouse = errors.New("transfer: source and destination warehouse must differ")
	// ErrNoItems occurs when a transfer carries no lines.
	ErrNoItems = errors.New("transfer: at least one item required")
	// ErrNotFound indicates a missing transfer.
	ErrNotFound = errors.New("transfer: not found")
)
