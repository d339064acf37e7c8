package stock

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	positions    map[string]Position
	transactions []Transaction
	batches      []Batch
	nextTxID     int64
	nextBatchID  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{positions: make(map[string]Position)}
}

func posKey(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

// WithTx snapshots state and restores it when fn fails, mirroring the
// rollback behaviour of the real repository.
func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	positions := make(map[string]Position, len(m.positions))
	for k, v := range m.positions {
		positions[k] = v
	}
	transactions := append([]Transaction(nil), m.transactions...)
	batches := append([]Batch(nil), m.batches...)
	nextTx, nextBatch := m.nextTxID, m.nextBatchID

	if err := fn(ctx, (*memoryTx)(m)); err != nil {
		m.positions = positions
		m.transactions = transactions
		m.batches = batches
		m.nextTxID, m.nextBatchID = nextTx, nextBatch
		return err
	}
	return nil
}

func (m *memoryStore) GetPosition(ctx context.Context, warehouseID, productID int64) (Position, error) {
	if pos, ok := m.positions[posKey(warehouseID, productID)]; ok {
		return pos, nil
	}
	return Position{}, ErrPositionNotFound
}

func (m *memoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	out := append([]Transaction(nil), m.transactions...)
	return out, len(out), nil
}

func (m *memoryStore) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error) {
	out := append([]Batch(nil), m.batches...)
	return out, len(out), nil
}

func (m *memoryStore) MarkExpiredBatches(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for i := range m.batches {
		b := &m.batches[i]
		if b.Status == BatchActive && b.RemainingQuantity > 0 && !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(now) {
			b.Status = BatchExpired
			n++
		}
	}
	return n, nil
}

type memoryTx memoryStore

func (m *memoryTx) GetPositionForUpdate(ctx context.Context, warehouseID, productID int64) (Position, error) {
	return (*memoryStore)(m).GetPosition(ctx, warehouseID, productID)
}

func (m *memoryTx) UpsertPosition(ctx context.Context, pos Position) error {
	m.positions[posKey(pos.WarehouseID, pos.ProductID)] = pos
	return nil
}

func (m *memoryTx) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	m.nextTxID++
	t.ID = m.nextTxID
	m.transactions = append(m.transactions, t)
	return t.ID, nil
}

func (m *memoryTx) ListConsumableBatches(ctx context.Context, productID int64, now time.Time) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ProductID != productID || b.Status != BatchActive || b.RemainingQuantity <= 0 {
			continue
		}
		if !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(now) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].ExpiryDate, out[j].ExpiryDate
		if ei.IsZero() != ej.IsZero() {
			return !ei.IsZero()
		}
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryTx) UpdateBatchConsumption(ctx context.Context, batchID, remaining int64, status BatchStatus) error {
	for i := range m.batches {
		if m.batches[i].ID == batchID {
			m.batches[i].RemainingQuantity = remaining
			m.batches[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("batch %d not found", batchID)
}

func (m *memoryTx) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	m.nextBatchID++
	b.ID = m.nextBatchID
	m.batches = append(m.batches, b)
	return b.ID, nil
}

func (m *memoryTx) BatchNumberExists(ctx context.Context, productID int64, number string) (bool, error) {
	for _, b := range m.batches {
		if b.ProductID == productID && b.BatchNumber == number {
			return true, nil
		}
	}
	return false, nil
}

type staticPolicy bool

func (p staticPolicy) AllowNegativeStock(ctx context.Context, warehouseID int64) (bool, error) {
	return bool(p), nil
}

type trackedCatalog map[int64]bool

func (c trackedCatalog) BatchTracked(ctx context.Context, productID int64) (bool, error) {
	return c[productID], nil
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestMovementConservation(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 7, Type: MovementInflow, Quantity: 100, UnitCost: dec(10), ReferenceType: RefCreation})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 7, Type: MovementOutflow, Quantity: 30, ReferenceType: RefSale})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 7, Type: MovementInflow, Quantity: 12, UnitCost: dec(11), ReferenceType: RefPurchase})
	require.NoError(t, err)

	pos, err := svc.GetPosition(ctx, 1, 7)
	require.NoError(t, err)

	var signed int64
	for _, tx := range store.transactions {
		require.Greater(t, tx.Quantity, int64(0))
		require.Equal(t, tx.NewQuantity-tx.PreviousQuantity, signedQty(tx))
		signed += signedQty(tx)
	}
	require.Equal(t, pos.Quantity, signed)
	require.Equal(t, int64(82), pos.Quantity)
}

func signedQty(tx Transaction) int64 {
	if tx.Type == MovementOutflow {
		return -tx.Quantity
	}
	return tx.Quantity
}

func TestWeightedAverageOnReceipt(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Type: MovementInflow, Quantity: 100, UnitCost: dec(10), ReferenceType: RefCreation})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Type: MovementInflow, Quantity: 50, UnitCost: dec(15), ReferenceType: RefPurchase})
	require.NoError(t, err)

	pos, err := svc.GetPosition(ctx, 1, 1)
	require.NoError(t, err)
	// (100*10 + 50*15) / 150
	require.Equal(t, "11.666667", pos.AvgCost.StringFixed(6))
}

func TestNegativeStockGuard(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 2, Type: MovementInflow, Quantity: 3, UnitCost: dec(5), ReferenceType: RefCreation})
	require.NoError(t, err)

	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 2, Type: MovementOutflow, Quantity: 5, ReferenceType: RefSale})
	require.ErrorIs(t, err, ErrInsufficientStock)

	pos, err := svc.GetPosition(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), pos.Quantity)
	require.Len(t, store.transactions, 1)
}

func TestNegativeStockAllowed(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(true), nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 2, Type: MovementOutflow, Quantity: 5, ReferenceType: RefSale})
	require.NoError(t, err)

	pos, err := svc.GetPosition(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(-5), pos.Quantity)
}

func TestRestockNegativePosition(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(true), nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 4, Type: MovementOutflow, Quantity: 5, ReferenceType: RefSale})
	require.NoError(t, err)

	// A partial restock lands even while the position stays negative.
	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 4, Type: MovementInflow, Quantity: 3, UnitCost: dec(6), ReferenceType: RefPurchase})
	require.NoError(t, err)

	pos, err := svc.GetPosition(ctx, 1, 4)
	require.NoError(t, err)
	require.Equal(t, int64(-2), pos.Quantity)

	// Refilling past zero takes the received unit cost as the new basis
	// instead of blending against the deficit.
	_, err = svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 4, Type: MovementInflow, Quantity: 12, UnitCost: dec(6), ReferenceType: RefPurchase})
	require.NoError(t, err)

	pos, err = svc.GetPosition(ctx, 1, 4)
	require.NoError(t, err)
	require.Equal(t, int64(10), pos.Quantity)
	require.True(t, pos.AvgCost.Equal(dec(6)), pos.AvgCost.String())
}

func TestMovementWithoutReferenceOrActor(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), nil, nil, Config{})
	ctx := context.Background()

	entry, err := svc.PostMovement(ctx, MovementInput{WarehouseID: 1, ProductID: 5, Type: MovementInflow, Quantity: 2, UnitCost: dec(3), ReferenceType: RefAdjustment})
	require.NoError(t, err)
	require.Empty(t, entry.ReferenceID)
	require.Zero(t, entry.CreatedBy)

	// History must return the entry with its zero-value reference and
	// actor intact.
	entries, total, err := svc.ListTransactions(ctx, TransactionFilter{WarehouseID: 1, ProductID: 5})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, entry.ID, entries[0].ID)
	require.Empty(t, entries[0].ReferenceID)
	require.Zero(t, entries[0].CreatedBy)
}

func TestFEFOConsumption(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), trackedCatalog{9: true}, nil, Config{})
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return base })

	expiries := []time.Time{base.AddDate(0, 0, 10), base.AddDate(0, 0, 20), base.AddDate(0, 0, 30)}
	quantities := []int64{8, 12, 6}
	// Receive in reverse expiry order so FEFO cannot hide behind insert order.
	for i := len(expiries) - 1; i >= 0; i-- {
		_, err := svc.ReceiveIntoStock(ctx, ReceiveInput{
			WarehouseID: 1, ProductID: 9, Quantity: quantities[i], UnitCost: dec(4),
			ExpiryDate: expiries[i], ReferenceType: RefPurchase,
		})
		require.NoError(t, err)
	}

	result, err := svc.PostOutbound(ctx, OutboundInput{WarehouseID: 1, ProductID: 9, Quantity: quantities[0] + 5, ReferenceType: RefSale})
	require.NoError(t, err)
	require.Len(t, result.Consumptions, 2)
	require.Equal(t, int64(8), result.Consumptions[0].Quantity)
	require.Equal(t, int64(5), result.Consumptions[1].Quantity)

	byExpiry := map[int64]Batch{}
	for _, b := range store.batches {
		byExpiry[int64(b.ExpiryDate.Sub(base)/(24*time.Hour))] = b
	}
	require.Equal(t, int64(0), byExpiry[10].RemainingQuantity)
	require.Equal(t, BatchDepleted, byExpiry[10].Status)
	require.Equal(t, int64(7), byExpiry[20].RemainingQuantity)
	require.Equal(t, int64(6), byExpiry[30].RemainingQuantity)
}

func TestOutboundRollsBackWhenBatchesShort(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(true), trackedCatalog{9: true}, nil, Config{})
	ctx := context.Background()

	_, err := svc.ReceiveIntoStock(ctx, ReceiveInput{
		WarehouseID: 1, ProductID: 9, Quantity: 4, UnitCost: dec(4),
		ExpiryDate: time.Now().AddDate(0, 1, 0), ReferenceType: RefPurchase,
	})
	require.NoError(t, err)

	_, err = svc.PostOutbound(ctx, OutboundInput{WarehouseID: 1, ProductID: 9, Quantity: 10, ReferenceType: RefSale})
	require.ErrorIs(t, err, ErrInsufficientBatchStock)

	// Neither the ledger nor the batch registry moved.
	pos, err := svc.GetPosition(ctx, 1, 9)
	require.NoError(t, err)
	require.Equal(t, int64(4), pos.Quantity)
	require.Equal(t, int64(4), store.batches[0].RemainingQuantity)
	require.Len(t, store.transactions, 1)
}

func TestBatchNumberGeneration(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), trackedCatalog{3: true}, nil, Config{})
	ctx := context.Background()
	svc.WithNow(func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) })

	result, err := svc.ReceiveIntoStock(ctx, ReceiveInput{
		WarehouseID: 1, ProductID: 3, Quantity: 10, UnitCost: dec(2), ReferenceType: RefPurchase,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Batch)
	require.Regexp(t, `^B20260901-[0-9A-F]{4}$`, result.Batch.BatchNumber)
	require.Equal(t, int64(10), result.Batch.RemainingQuantity)

	_, err = svc.ReceiveIntoStock(ctx, ReceiveInput{
		WarehouseID: 1, ProductID: 3, Quantity: 5, UnitCost: dec(2),
		BatchNumber: result.Batch.BatchNumber, ReferenceType: RefPurchase,
	})
	require.ErrorIs(t, err, ErrBatchNumberTaken)
}

func TestSweepExpiredBatches(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, staticPolicy(false), trackedCatalog{3: true}, nil, Config{})
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return base.AddDate(0, 0, -10) })

	_, err := svc.ReceiveIntoStock(ctx, ReceiveInput{
		WarehouseID: 1, ProductID: 3, Quantity: 10, UnitCost: dec(2),
		ExpiryDate: base.AddDate(0, 0, -1), ReferenceType: RefPurchase,
	})
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return base })
	marked, err := svc.SweepExpiredBatches(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), marked)
	require.Equal(t, BatchExpired, store.batches[0].Status)
	// Quantities stay put; only status changes.
	require.Equal(t, int64(10), store.batches[0].RemainingQuantity)

	marked, err = svc.SweepExpiredBatches(ctx)
	require.NoError(t, err)
	require.Zero(t, marked)
}
