package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	notifications []Notification
	lowStock      []LowStockRow
	expiring      []ExpiringBatchRow
	nextID        int64
	countCalls    int
}

func (m *memoryStore) InsertIfNoUnread(ctx context.Context, n Notification) (bool, error) {
	for _, existing := range m.notifications {
		if !existing.IsRead && existing.Type == n.Type && existing.EntityType == n.EntityType && existing.EntityID == n.EntityID {
			return false, nil
		}
	}
	m.nextID++
	n.ID = m.nextID
	m.notifications = append(m.notifications, n)
	return true, nil
}

func (m *memoryStore) ListLowStock(ctx context.Context) ([]LowStockRow, error) {
	return m.lowStock, nil
}

func (m *memoryStore) ListExpiringBatches(ctx context.Context, horizon time.Time) ([]ExpiringBatchRow, error) {
	var out []ExpiringBatchRow
	for _, row := range m.expiring {
		if !row.ExpiryDate.After(horizon) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryStore) List(ctx context.Context, unreadOnly bool, page, perPage int) ([]Notification, int, error) {
	var out []Notification
	for _, n := range m.notifications {
		if !unreadOnly || !n.IsRead {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

func (m *memoryStore) MarkRead(ctx context.Context, id int64) error {
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryStore) MarkAllRead(ctx context.Context) (int64, error) {
	var n int64
	for i := range m.notifications {
		if !m.notifications[i].IsRead {
			m.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) UnreadCount(ctx context.Context) (int64, error) {
	m.countCalls++
	var n int64
	for _, notif := range m.notifications {
		if !notif.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	kept := m.notifications[:0]
	var purged int64
	for _, n := range m.notifications {
		if n.ExpiresAt.Before(now) {
			purged++
			continue
		}
		kept = append(kept, n)
	}
	m.notifications = kept
	return purged, nil
}

func unreadOfType(store *memoryStore, typ Type, entityID int64) []Notification {
	var out []Notification
	for _, n := range store.notifications {
		if !n.IsRead && n.Type == typ && n.EntityID == entityID {
			out = append(out, n)
		}
	}
	return out
}

func TestLowStockSweepDedup(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{lowStock: []LowStockRow{
		{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 2, MinStockLevel: 5},
	}}
	svc := NewService(store, nil, Config{})

	report, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Raised)

	// Second sweep over unchanged state raises nothing.
	report, err = svc.SweepLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 0, report.Raised)

	require.Len(t, unreadOfType(store, TypeLowStock, 7), 1)
	require.Equal(t, PriorityHigh, store.notifications[0].Priority)
}

func TestLowStockSweepCriticalOnStockout(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{lowStock: []LowStockRow{
		{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 0, MinStockLevel: 5},
	}}
	svc := NewService(store, nil, Config{})

	_, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, PriorityCritical, store.notifications[0].Priority)
	require.Equal(t, "Stockout", store.notifications[0].Title)
}

func TestMarkReadReopensDedupWindow(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{lowStock: []LowStockRow{
		{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 2, MinStockLevel: 5},
	}}
	svc := NewService(store, nil, Config{})

	_, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, store.notifications[0].ID))

	// Once read, the condition may alert again.
	report, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Raised)
	require.Len(t, unreadOfType(store, TypeLowStock, 7), 1)
}

func TestExpirySweepGrading(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store := &memoryStore{expiring: []ExpiringBatchRow{
		{BatchID: 1, BatchNumber: "B1", ProductID: 7, ProductName: "Milk", RemainingQuantity: 4, ExpiryDate: now.AddDate(0, 0, 3)},
		{BatchID: 2, BatchNumber: "B2", ProductID: 7, ProductName: "Milk", RemainingQuantity: 6, ExpiryDate: now.AddDate(0, 0, 10)},
		{BatchID: 3, BatchNumber: "B3", ProductID: 7, ProductName: "Milk", RemainingQuantity: 9, ExpiryDate: now.AddDate(0, 0, 25)},
		{BatchID: 4, BatchNumber: "B4", ProductID: 7, ProductName: "Milk", RemainingQuantity: 2, ExpiryDate: now.AddDate(0, 0, -1)},
	}}
	svc := NewService(store, nil, Config{ExpiryHorizonDays: 30})
	svc.WithNow(func() time.Time { return now })

	report, err := svc.SweepExpiry(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Raised)

	byBatch := map[int64]Notification{}
	for _, n := range store.notifications {
		byBatch[n.EntityID] = n
	}
	require.Equal(t, PriorityCritical, byBatch[1].Priority)
	require.Equal(t, PriorityHigh, byBatch[2].Priority)
	require.Equal(t, PriorityMedium, byBatch[3].Priority)
	require.Equal(t, TypeBatchExpiry, byBatch[4].Type)
	require.Equal(t, PriorityCritical, byBatch[4].Priority)

	// Sweeps are idempotent per batch.
	report, err = svc.SweepExpiry(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Raised)
}

func TestUnreadCountCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &memoryStore{lowStock: []LowStockRow{
		{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 2, MinStockLevel: 5},
	}}
	svc := NewService(store, NewCache(client, time.Minute), Config{})

	_, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)

	n, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 1, store.countCalls)

	// Second call is served from Redis.
	n, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 1, store.countCalls)

	// A read-state change invalidates the cached badge.
	require.NoError(t, svc.MarkRead(ctx, store.notifications[0].ID))
	n, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
	require.Equal(t, 2, store.countCalls)
}

func TestUnreadCountFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &memoryStore{lowStock: []LowStockRow{
		{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 2, MinStockLevel: 5},
	}}
	svc := NewService(store, NewCache(client, time.Minute), Config{})

	_, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)

	// With the cache unreachable the badge is served from the store.
	mr.Close()
	n, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 1, store.countCalls)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store := &memoryStore{}
	svc := NewService(store, nil, Config{Retention: time.Hour})
	svc.WithNow(func() time.Time { return now.Add(-2 * time.Hour) })

	store.lowStock = []LowStockRow{{WarehouseID: 1, ProductID: 7, ProductName: "Widget", Quantity: 1, MinStockLevel: 5}}
	_, err := svc.SweepLowStock(ctx)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return now })
	purged, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	require.Empty(t, store.notifications)
}
