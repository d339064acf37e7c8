package costing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReconcileReceipt(t *testing.T) {
	newAvg, err := ReconcileReceipt(100, decimal.NewFromInt(10), 50, decimal.NewFromInt(750))
	require.NoError(t, err)
	require.Equal(t, "11.666667", newAvg.StringFixed(6))

	// First receipt for a fresh product takes the lot cost directly.
	newAvg, err = ReconcileReceipt(0, decimal.Zero, 10, decimal.NewFromInt(1500))
	require.NoError(t, err)
	require.True(t, newAvg.Equal(decimal.NewFromInt(150)))
}

func TestReconcileReceiptUndefined(t *testing.T) {
	_, err := ReconcileReceipt(0, decimal.Zero, 0, decimal.Zero)
	require.ErrorIs(t, err, ErrEmptyReceipt)
}

func TestCheckMargin(t *testing.T) {
	require.Nil(t, CheckMargin(1, decimal.NewFromInt(80), decimal.NewFromInt(100)))

	warn := CheckMargin(1, decimal.NewFromInt(120), decimal.NewFromInt(100))
	require.NotNil(t, warn)
	require.True(t, warn.SuggestedSellingPrice.Equal(decimal.NewFromInt(144)))

	// The suggestion never undercuts the current selling price.
	warn = CheckMargin(1, decimal.NewFromFloat(10.5), decimal.NewFromInt(10))
	require.NotNil(t, warn)
	require.True(t, warn.SuggestedSellingPrice.GreaterThanOrEqual(decimal.NewFromInt(10)))
}
