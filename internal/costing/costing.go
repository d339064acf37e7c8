// Package costing holds the weighted-average cost arithmetic. Every stock
// receipt, whether from product creation, a manual top-up or a purchase
// order, reconciles its cost basis through ReconcileReceipt; this is the
// only place the blend is computed.
package costing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEmptyReceipt indicates a reconcile call with no resulting quantity.
var ErrEmptyReceipt = errors.New("costing: combined quantity must be positive")

var marginFactor = decimal.NewFromFloat(1.2)

// ReconcileReceipt blends the current cost basis with a received lot:
//
//	newAvg = (currentQty*currentAvgCost + receivedTotalCost) / (currentQty + receivedQty)
//
// Defined only for currentQty+receivedQty > 0.
func ReconcileReceipt(currentQty int64, currentAvgCost decimal.Decimal, receivedQty int64, receivedTotalCost decimal.Decimal) (decimal.Decimal, error) {
	combined := currentQty + receivedQty
	if combined <= 0 {
		return decimal.Zero, ErrEmptyReceipt
	}
	existing := decimal.NewFromInt(currentQty).Mul(currentAvgCost)
	return existing.Add(receivedTotalCost).DivRound(decimal.NewFromInt(combined), 6), nil
}

// MarginWarning flags a receipt whose new average cost exceeds the selling
// price. It is advisory; receipts proceed regardless.
type MarginWarning struct {
	ProductID             int64           `json:"product_id"`
	AvgCost               decimal.Decimal `json:"avg_cost"`
	SellingPrice          decimal.Decimal `json:"selling_price"`
	SuggestedSellingPrice decimal.Decimal `json:"suggested_selling_price"`
}

// CheckMargin returns a warning when newAvgCost is above sellingPrice. The
// suggested price is newAvgCost*1.2, never below the current selling price.
func CheckMargin(productID int64, newAvgCost, sellingPrice decimal.Decimal) *MarginWarning {
	if newAvgCost.LessThanOrEqual(sellingPrice) {
		return nil
	}
	suggested := newAvgCost.Mul(marginFactor).Round(2)
	if suggested.LessThan(sellingPrice) {
		suggested = sellingPrice
	}
	return &MarginWarning{
		ProductID:             productID,
		AvgCost:               newAvgCost,
		SellingPrice:          sellingPrice,
		SuggestedSellingPrice: suggested,
	}
}
