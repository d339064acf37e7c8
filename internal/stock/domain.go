package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates ledger movement directions.
type MovementType string

const (
	// MovementInflow represents stock entering a warehouse.
	MovementInflow MovementType = "inflow"
	// MovementOutflow represents stock leaving a warehouse.
	MovementOutflow MovementType = "outflow"
)

// ReferenceType ties a ledger entry back to the business event that caused it.
type ReferenceType string

const (
	RefPurchase   ReferenceType = "purchase"
	RefSale       ReferenceType = "sale"
	RefTransfer   ReferenceType = "transfer"
	RefAdjustment ReferenceType = "adjustment"
	RefCreation   ReferenceType = "creation"
)

// Position is the current on-hand quantity for a (warehouse, product) pair.
// Rows are created lazily on the first movement and never deleted, only
// zeroed. Quantity always equals the signed sum of the position's
// transactions.
type Position struct {
	WarehouseID int64           `json:"warehouse_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Transaction is one immutable, append-only ledger entry.
type Transaction struct {
	ID               int64           `json:"id"`
	WarehouseID      int64           `json:"warehouse_id"`
	ProductID        int64           `json:"product_id"`
	Type             MovementType    `json:"type"`
	Quantity         int64           `json:"quantity"`
	PreviousQuantity int64           `json:"previous_quantity"`
	NewQuantity      int64           `json:"new_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ReferenceType    ReferenceType   `json:"reference_type"`
	ReferenceID      string          `json:"reference_id"`
	Note             string          `json:"note"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchExpired  BatchStatus = "expired"
	BatchDepleted BatchStatus = "depleted"
)

// Batch is a tracked lot of a product received together. Batches are scoped
// to a product, not a warehouse, so inter-warehouse transfers leave them
// untouched. Depleted batches are retained for audit.
type Batch struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	BatchNumber       string          `json:"batch_number"`
	Quantity          int64           `json:"quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	ManufacturingDate time.Time       `json:"manufacturing_date"`
	Supplier          string          `json:"supplier"`
	Status            BatchStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BatchConsumption records how much of a batch one outbound took.
type BatchConsumption struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int64  `json:"quantity"`
}

// MovementInput describes a single ledger movement.
type MovementInput struct {
	WarehouseID   int64
	ProductID     int64
	Type          MovementType
	Quantity      int64
	UnitCost      decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   string
	Note          string
	ActorID       int64
}

// OutboundInput describes a sale-style outflow. Batch-tracked products
// consume batches in FEFO order within the same unit of work.
type OutboundInput struct {
	WarehouseID   int64
	ProductID     int64
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   string
	Note          string
	ActorID       int64
}

// OutboundResult pairs the ledger entry with any batch consumptions.
type OutboundResult struct {
	Transaction  Transaction        `json:"transaction"`
	Consumptions []BatchConsumption `json:"consumptions,omitempty"`
}

// ReceiveInput describes an inbound receipt, optionally creating a batch.
type ReceiveInput struct {
	WarehouseID       int64
	ProductID         int64
	Quantity          int64
	UnitCost          decimal.Decimal
	BatchNumber       string
	ExpiryDate        time.Time
	ManufacturingDate time.Time
	Supplier          string
	ReferenceType     ReferenceType
	ReferenceID       string
	Note              string
	ActorID           int64
}

// ReceiveResult reports the ledger entry and the batch created, if any.
type ReceiveResult struct {
	Transaction Transaction `json:"transaction"`
	Batch       *Batch      `json:"batch,omitempty"`
}

// TransactionFilter narrows transaction history queries.
type TransactionFilter struct {
	WarehouseID   int64
	ProductID     int64
	Type          MovementType
	ReferenceType ReferenceType
	From          time.Time
	To            time.Time
	Page          int
	PerPage       int
}

// BatchFilter narrows batch listings. Results are sorted in FEFO order.
type BatchFilter struct {
	ProductID int64
	Status    BatchStatus
	Page      int
	PerPage   int
}

var (
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInsufficientStock triggered when an outflow would drive the
	// position negative and the warehouse disallows negative stock.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInsufficientBatchStock triggered when active batches cannot cover
	// a consumption request.
	ErrInsufficientBatchStock = errors.New("stock: insufficient batch stock")
	// ErrPositionNotFound indicates a missing position row.
	ErrPositionNotFound = errors.New("stock: position not found")
	// ErrBatchNumberTaken indicates a batch number collision for a product.
	ErrBatchNumberTaken = errors.New("stock: batch number already used")
)
