package purchasing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates purchase order states.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// PurchaseOrder tracks an order against a supplier. Receiving against it
// feeds the stock ledger and the cost basis.
type PurchaseOrder struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	SupplierID  int64           `json:"supplier_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Status      Status          `json:"status"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Freight     decimal.Decimal `json:"freight"`
	Discount    decimal.Decimal `json:"discount"`
	SubTotal    decimal.Decimal `json:"sub_total"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
}

// Item is one ordered product line. ReceivedQty accumulates across
// partial receipts and never exceeds OrderedQty.
type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	OrderedQty  int64           `json:"ordered_qty"`
	ReceivedQty int64           `json:"received_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	SupplierID  int64
	WarehouseID int64
	TaxRate     decimal.Decimal
	Freight     decimal.Decimal
	Discount    decimal.Decimal
	Items       []ItemInput
	ActorID     int64
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// ReceiveLine is one line of a receiving call.
type ReceiveLine struct {
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
	// Batch metadata, used when the product is batch tracked.
	BatchNumber       string
	ExpiryDate        time.Time
	ManufacturingDate time.Time
}

// ReceiveInput groups the lines of one receiving event. IdempotencyKey,
// when supplied by the caller, guards against double-submission of the
// same receipt.
type ReceiveInput struct {
	OrderID        int64
	Lines          []ReceiveLine
	IdempotencyKey string
	ActorID        int64
}

// ReceiveResult reports the updated order plus any advisory warnings.
type ReceiveResult struct {
	Order    PurchaseOrder `json:"order"`
	Items    []Item        `json:"items"`
	Warnings []Warning     `json:"warnings,omitempty"`
}

// Warning is an advisory raised during receiving; it never blocks the
// receipt.
type Warning struct {
	ProductID             int64           `json:"product_id"`
	Message               string          `json:"message"`
	AvgCost               decimal.Decimal `json:"avg_cost"`
	SellingPrice          decimal.Decimal `json:"selling_price"`
	SuggestedSellingPrice decimal.Decimal `json:"suggested_selling_price"`
}

var (
	// ErrOverReceipt occurs when a line would exceed its ordered quantity.
	ErrOverReceipt = errors.New("purchasing: received quantity exceeds ordered quantity")
	// ErrInvalidAmount occurs on a non-positive payment.
	ErrInvalidAmount = errors.New("purchasing: amount must be positive")
	// ErrInvalidState occurs when an operation is illegal for the order's status.
	ErrInvalidState = errors.New("purchasing: invalid order state")
	// ErrUnknownLine occurs when a receive line names a product not on the order.
	ErrUnknownLine = errors.New("purchasing: product not on order")
	// ErrNotFound indicates a missing purchase order.
	ErrNotFound = errors.New("purchasing: not found")
)
