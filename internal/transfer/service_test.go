package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

type memoryStore struct {
	positions    map[string]stock.Position
	transactions []stock.Transaction
	batches      []stock.Batch
	transfers    map[int64]Transfer
	items        map[int64][]Item
	nextTxID     int64
	nextID       int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		positions: make(map[string]stock.Position),
		transfers: make(map[int64]Transfer),
		items:     make(map[int64][]Item),
	}
}

func posKey(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

// WithTx snapshots state and restores it when fn fails, mirroring the
// rollback behaviour of the real repository.
func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	positions := make(map[string]stock.Position, len(m.positions))
	for k, v := range m.positions {
		positions[k] = v
	}
	transfers := make(map[int64]Transfer, len(m.transfers))
	for k, v := range m.transfers {
		transfers[k] = v
	}
	items := make(map[int64][]Item, len(m.items))
	for k, v := range m.items {
		items[k] = append([]Item(nil), v...)
	}
	transactions := append([]stock.Transaction(nil), m.transactions...)
	batches := append([]stock.Batch(nil), m.batches...)
	nextTx, next := m.nextTxID, m.nextID

	if err := fn(ctx, (*memoryTx)(m)); err != nil {
		m.positions = positions
		m.transfers = transfers
		m.items = items
		m.transactions = transactions
		m.batches = batches
		m.nextTxID, m.nextID = nextTx, next
		return err
	}
	return nil
}

func (m *memoryStore) GetTransfer(ctx context.Context, id int64) (Transfer, []Item, error) {
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, nil, ErrNotFound
	}
	return t, append([]Item(nil), m.items[id]...), nil
}

func (m *memoryStore) ListTransfers(ctx context.Context, status Status, page, perPage int) ([]Transfer, int, error) {
	var out []Transfer
	for _, t := range m.transfers {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

type memoryTx memoryStore

func (m *memoryTx) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, []Item, error) {
	return (*memoryStore)(m).GetTransfer(ctx, id)
}

func (m *memoryTx) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	m.nextID++
	t.ID = m.nextID
	m.transfers[t.ID] = t
	return t.ID, nil
}

func (m *memoryTx) InsertItem(ctx context.Context, item Item) error {
	item.ID = int64(len(m.items[item.TransferID]) + 1)
	m.items[item.TransferID] = append(m.items[item.TransferID], item)
	return nil
}

func (m *memoryTx) UpdateTransfer(ctx context.Context, t Transfer) error {
	if _, ok := m.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	m.transfers[t.ID] = t
	return nil
}

func (m *memoryTx) GetPositionForUpdate(ctx context.Context, warehouseID, productID int64) (stock.Position, error) {
	if pos, ok := m.positions[posKey(warehouseID, productID)]; ok {
		return pos, nil
	}
	return stock.Position{}, stock.ErrPositionNotFound
}

func (m *memoryTx) UpsertPosition(ctx context.Context, pos stock.Position) error {
	m.positions[posKey(pos.WarehouseID, pos.ProductID)] = pos
	return nil
}

func (m *memoryTx) InsertTransaction(ctx context.Context, t stock.Transaction) (int64, error) {
	m.nextTxID++
	t.ID = m.nextTxID
	m.transactions = append(m.transactions, t)
	return t.ID, nil
}

func (m *memoryTx) ListConsumableBatches(ctx context.Context, productID int64, now time.Time) ([]stock.Batch, error) {
	return nil, nil
}

func (m *memoryTx) UpdateBatchConsumption(ctx context.Context, batchID, remaining int64, status stock.BatchStatus) error {
	return nil
}

func (m *memoryTx) InsertBatch(ctx context.Context, b stock.Batch) (int64, error) {
	m.batches = append(m.batches, b)
	return int64(len(m.batches)), nil
}

func (m *memoryTx) BatchNumberExists(ctx context.Context, productID int64, number string) (bool, error) {
	return false, nil
}

type denyNegative struct{}

func (denyNegative) AllowNegativeStock(ctx context.Context, warehouseID int64) (bool, error) {
	return false, nil
}

func newTestService(store *memoryStore) *Service {
	ledger := stock.NewService(nil, denyNegative{}, nil, nil, stock.Config{})
	return NewService(store, ledger, nil, nil)
}

func seedPosition(store *memoryStore, warehouseID, productID, qty int64, avgCost string) {
	cost, _ := decimal.NewFromString(avgCost)
	store.positions[posKey(warehouseID, productID)] = stock.Position{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    qty,
		AvgCost:     cost,
		LastUpdated: time.Now(),
	}
}

func createTransfer(t *testing.T, svc *Service, items ...ItemInput) Transfer {
	t.Helper()
	tr, err := svc.Create(context.Background(), CreateInput{
		FromWarehouseID: 1,
		ToWarehouseID:   2,
		Items:           items,
		ActorID:         9,
	})
	require.NoError(t, err)
	return tr
}

func TestTransferMovesFullQuantity(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := newTestService(store)
	seedPosition(store, 1, 10, 20, "12.50")

	tr := createTransfer(t, svc, ItemInput{ProductID: 10, Quantity: 20})
	require.Equal(t, StatusPending, tr.Status)
	require.Equal(t, int64(20), tr.TotalQuantity)

	_, err := svc.Approve(ctx, tr.ID, 9)
	require.NoError(t, err)

	done, err := svc.Process(ctx, tr.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, "250", done.TotalValue.String())

	source := store.positions[posKey(1, 10)]
	dest := store.positions[posKey(2, 10)]
	require.Equal(t, int64(0), source.Quantity)
	require.Equal(t, int64(20), dest.Quantity)
	require.True(t, dest.AvgCost.Equal(decimal.RequireFromString("12.50")), "destination inherits source cost, got %s", dest.AvgCost)

	// One outflow and one inflow, equal and opposite.
	require.Len(t, store.transactions, 2)
	require.Equal(t, stock.MovementOutflow, store.transactions[0].Type)
	require.Equal(t, stock.MovementInflow, store.transactions[1].Type)
	require.Equal(t, store.transactions[0].Quantity, store.transactions[1].Quantity)
}

func TestTransferRollsBackWhenAnyItemShort(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := newTestService(store)
	seedPosition(store, 1, 10, 50, "4.00")
	seedPosition(store, 1, 11, 2, "9.00")

	tr := createTransfer(t, svc,
		ItemInput{ProductID: 10, Quantity: 30},
		ItemInput{ProductID: 11, Quantity: 5},
	)
	_, err := svc.Approve(ctx, tr.ID, 9)
	require.NoError(t, err)

	_, err = svc.Process(ctx, tr.ID, 9)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// Nothing moved anywhere, including the item that had enough stock.
	require.Equal(t, int64(50), store.positions[posKey(1, 10)].Quantity)
	require.Equal(t, int64(2), store.positions[posKey(1, 11)].Quantity)
	_, destExists := store.positions[posKey(2, 10)]
	require.False(t, destExists)
	require.Empty(t, store.transactions)

	got, _, err := store.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
}

func TestTransferStateMachine(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := newTestService(store)
	seedPosition(store, 1, 10, 100, "1.00")

	tr := createTransfer(t, svc, ItemInput{ProductID: 10, Quantity: 1})

	// Processing straight from pending is rejected.
	_, err := svc.Process(ctx, tr.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransferState)

	_, err = svc.Approve(ctx, tr.ID, 9)
	require.NoError(t, err)

	// Approving twice is rejected.
	_, err = svc.Approve(ctx, tr.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransferState)

	dispatched, err := svc.Dispatch(ctx, tr.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, dispatched.Status)

	// In-transit transfers cannot be cancelled, only processed.
	_, err = svc.Cancel(ctx, tr.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransferState)

	done, err := svc.Process(ctx, tr.ID, 9)
	require.NoError(t, err)
	require.True(t, done.Status.Terminal())

	// Completed transfers never move again.
	_, err = svc.Process(ctx, tr.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransferState)
}

func TestTransferCancelAndReject(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := newTestService(store)
	seedPosition(store, 1, 10, 10, "1.00")

	tr := createTransfer(t, svc, ItemInput{ProductID: 10, Quantity: 10})
	rejected, err := svc.Reject(ctx, tr.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, int64(10), store.positions[posKey(1, 10)].Quantity)

	tr2 := createTransfer(t, svc, ItemInput{ProductID: 10, Quantity: 10})
	_, err = svc.Approve(ctx, tr2.ID, 9)
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, tr2.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, int64(10), store.positions[posKey(1, 10)].Quantity)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore())

	_, err := svc.Create(ctx, CreateInput{FromWarehouseID: 1, ToWarehouseID: 1, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrSameWarehouse)

	_, err = svc.Create(ctx, CreateInput{FromWarehouseID: 1, ToWarehouseID: 2})
	require.ErrorIs(t, err, ErrNoItems)

	_, err = svc.Create(ctx, CreateInput{FromWarehouseID: 1, ToWarehouseID: 2, Items: []ItemInput{{ProductID: 1, Quantity: 0}}})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)
}
