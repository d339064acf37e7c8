package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog slice the inventory core reads. Master-data CRUD
// lives outside this service; only lookups are exposed here.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	MinStockLevel int64           `json:"min_stock_level"`
	BatchTracked  bool            `json:"batch_tracked"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Warehouse describes a stock location and its negative-stock policy.
type Warehouse struct {
	ID                 int64     `json:"id"`
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	AllowNegativeStock bool      `json:"allow_negative_stock"`
	CreatedAt          time.Time `json:"created_at"`
}

// ErrNotFound indicates a missing product or warehouse.
var ErrNotFound = errors.New("masterdata: not found")
