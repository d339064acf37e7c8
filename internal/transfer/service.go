package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// TxStore is the transactional port for transfers. It embeds the stock
// ledger's tx store so the status flip and every item's dual movement
// commit or roll back as one unit of work.
type TxStore interface {
	stock.TxStore
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, []Item, error)
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateTransfer(ctx context.Context, t Transfer) error
}

// Store is the persistence port for the transfer service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, []Item, error)
	ListTransfers(ctx context.Context, status Status, page, perPage int) ([]Transfer, int, error)
}

// LedgerPort exposes the tx-scoped ledger operation transfers need.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, tx stock.TxStore, input stock.MovementInput) (stock.Transaction, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the transfer state machine. Stock only ever moves in
// Process; every other transition is bookkeeping.
type Service struct {
	store       Store
	ledger      LedgerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the transfer service.
func NewService(store Store, ledger LedgerPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{store: store, ledger: ledger, audit: audit, idempotency: idem, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Create registers a pending transfer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
		return Transfer{}, fmt.Errorf("transfer: both warehouses required")
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return Transfer{}, ErrSameWarehouse
	}
	if len(input.Items) == 0 {
		return Transfer{}, ErrNoItems
	}
	var totalQty int64
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return Transfer{}, stock.ErrInvalidQuantity
		}
		totalQty += item.Quantity
	}

	now := s.now().UTC()
	t := Transfer{
		Number:          fmt.Sprintf("TRF-%d", now.UnixNano()),
		FromWarehouseID: input.FromWarehouseID,
		ToWarehouseID:   input.ToWarehouseID,
		Status:          StatusPending,
		TotalItems:      len(input.Items),
		TotalQuantity:   totalQty,
		TotalValue:      decimal.Zero,
		CreatedBy:       input.ActorID,
		CreatedAt:       now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		id, err := tx.InsertTransfer(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		for _, item := range input.Items {
			if err := tx.InsertItem(ctx, Item{TransferID: id, ProductID: item.ProductID, Quantity: item.Quantity}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "transfer:create", t.ID, map[string]any{"number": t.Number, "total_quantity": totalQty})
	return t, nil
}

// Approve transitions pending -> approved.
func (s *Service) Approve(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, "transfer:approve", StatusApproved, StatusPending)
}

// Dispatch transitions approved -> in_transit without moving stock.
func (s *Service) Dispatch(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, "transfer:dispatch", StatusInTransit, StatusApproved)
}

// Cancel transitions pending/approved -> cancelled. No stock moves.
func (s *Service) Cancel(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, "transfer:cancel", StatusCancelled, StatusPending, StatusApproved)
}

// Reject transitions pending -> rejected. No stock moves.
func (s *Service) Reject(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, "transfer:reject", StatusRejected, StatusPending)
}

// Process performs the actual stock movement. For every item an outflow at
// the source and an inflow at the destination are applied, then the
// transfer completes - all inside one transaction. A failure on any item
// aborts the whole transfer; partial movement is never observable.
func (s *Service) Process(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	key := fmt.Sprintf("transfer:process:%d", transferID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfer"); err != nil {
			return Transfer{}, err
		}
		insertedKey = true
	}

	var processed Transfer
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		t, items, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != StatusApproved && t.Status != StatusInTransit {
			return fmt.Errorf("%w: cannot process from %s", ErrInvalidTransferState, t.Status)
		}

		totalValue := decimal.Zero
		for _, item := range items {
			ref := fmt.Sprintf("%s:%d", t.Number, item.ProductID)
			out, err := s.ledger.ApplyMovement(ctx, tx, stock.MovementInput{
				WarehouseID:   t.FromWarehouseID,
				ProductID:     item.ProductID,
				Type:          stock.MovementOutflow,
				Quantity:      item.Quantity,
				ReferenceType: stock.RefTransfer,
				ReferenceID:   ref,
				Note:          fmt.Sprintf("transfer %s to warehouse %d", t.Number, t.ToWarehouseID),
				ActorID:       actorID,
			})
			if err != nil {
				return err
			}
			// Destination receives at the source's cost basis.
			if _, err := s.ledger.ApplyMovement(ctx, tx, stock.MovementInput{
				WarehouseID:   t.ToWarehouseID,
				ProductID:     item.ProductID,
				Type:          stock.MovementInflow,
				Quantity:      item.Quantity,
				UnitCost:      out.UnitCost,
				ReferenceType: stock.RefTransfer,
				ReferenceID:   ref,
				Note:          fmt.Sprintf("transfer %s from warehouse %d", t.Number, t.FromWarehouseID),
				ActorID:       actorID,
			}); err != nil {
				return err
			}
			totalValue = totalValue.Add(out.UnitCost.Mul(decimal.NewFromInt(item.Quantity)))
		}

		completedAt := s.now().UTC()
		t.Status = StatusCompleted
		t.TotalValue = totalValue
		t.CompletedAt = &completedAt
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		processed = t
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer:process", transferID, map[string]any{
		"number":      processed.Number,
		"total_value": processed.TotalValue.String(),
	})
	return processed, nil
}

// Get returns a transfer with its items.
func (s *Service) Get(ctx context.Context, transferID int64) (Transfer, []Item, error) {
	return s.store.GetTransfer(ctx, transferID)
}

// List returns transfers filtered by status.
func (s *Service) List(ctx context.Context, status Status, page, perPage int) ([]Transfer, int, error) {
	return s.store.ListTransfers(ctx, status, page, perPage)
}

func (s *Service) transition(ctx context.Context, transferID, actorID int64, action string, to Status, from ...Status) (Transfer, error) {
	var updated Transfer
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		t, _, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if t.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransferState, t.Status, to)
		}
		t.Status = to
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, action, transferID, map[string]any{"status": string(to)})
	return updated, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer",
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
	})
}
