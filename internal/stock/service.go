package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore exposes the transactional operations the ledger engine needs.
// Composite services (transfers, purchasing) embed this interface in their
// own tx stores so every mutation shares one database transaction.
type TxStore interface {
	GetPositionForUpdate(ctx context.Context, warehouseID, productID int64) (Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	ListConsumableBatches(ctx context.Context, productID int64, now time.Time) ([]Batch, error)
	UpdateBatchConsumption(ctx context.Context, batchID, remaining int64, status BatchStatus) error
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	BatchNumberExists(ctx context.Context, productID int64, number string) (bool, error)
}

// Store is the persistence port for the stock service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetPosition(ctx context.Context, warehouseID, productID int64) (Position, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error)
	MarkExpiredBatches(ctx context.Context, now time.Time) (int64, error)
}

// WarehouseDirectory resolves per-warehouse stock policy.
type WarehouseDirectory interface {
	AllowNegativeStock(ctx context.Context, warehouseID int64) (bool, error)
}

// ProductCatalog reports whether a product tracks batches.
type ProductCatalog interface {
	BatchTracked(ctx context.Context, productID int64) (bool, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups ledger policy settings.
type Config struct {
	// AllowNegativeStock is the fallback when no warehouse directory is
	// configured; warehouse rows override it.
	AllowNegativeStock bool
}

// Service owns every StockPosition mutation. No other component writes
// quantities directly.
type Service struct {
	store      Store
	warehouses WarehouseDirectory
	products   ProductCatalog
	audit      AuditPort
	cfg        Config
	now        func() time.Time
}

// NewService builds the stock service.
func NewService(store Store, warehouses WarehouseDirectory, products ProductCatalog, audit AuditPort, cfg Config) *Service {
	return &Service{store: store, warehouses: warehouses, products: products, audit: audit, cfg: cfg, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// PostMovement applies a single movement in its own unit of work. Used for
// manual adjustments and opening balances; composite flows call
// ApplyMovement inside their own transactions instead.
func (s *Service) PostMovement(ctx context.Context, input MovementInput) (Transaction, error) {
	if err := validateMovement(input); err != nil {
		return Transaction{}, err
	}
	var entry Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		entry, err = s.ApplyMovement(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, input.ActorID, fmt.Sprintf("stock:%s", input.Type), input.WarehouseID, input.ProductID, map[string]any{
		"quantity":  input.Quantity,
		"reference": string(input.ReferenceType),
	})
	return entry, nil
}

// PostOutbound posts a sale-style outflow. For batch-tracked products the
// FEFO consumption and the ledger outflow commit or roll back together.
func (s *Service) PostOutbound(ctx context.Context, input OutboundInput) (OutboundResult, error) {
	if input.Quantity <= 0 {
		return OutboundResult{}, ErrInvalidQuantity
	}
	tracked := false
	if s.products != nil {
		var err error
		tracked, err = s.products.BatchTracked(ctx, input.ProductID)
		if err != nil {
			return OutboundResult{}, err
		}
	}
	var result OutboundResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if tracked {
			consumed, err := s.ConsumeBatches(ctx, tx, input.ProductID, input.Quantity)
			if err != nil {
				return err
			}
			result.Consumptions = consumed
		}
		entry, err := s.ApplyMovement(ctx, tx, MovementInput{
			WarehouseID:   input.WarehouseID,
			ProductID:     input.ProductID,
			Type:          MovementOutflow,
			Quantity:      input.Quantity,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Note:          input.Note,
			ActorID:       input.ActorID,
		})
		if err != nil {
			return err
		}
		result.Transaction = entry
		return nil
	})
	if err != nil {
		return OutboundResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:outbound", input.WarehouseID, input.ProductID, map[string]any{
		"quantity": input.Quantity,
		"batches":  len(result.Consumptions),
	})
	return result, nil
}

// ReceiveIntoStock posts an inbound receipt: ledger inflow, cost
// reconciliation, and a new batch when the product is batch tracked.
func (s *Service) ReceiveIntoStock(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if input.Quantity <= 0 {
		return ReceiveResult{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return ReceiveResult{}, fmt.Errorf("stock: unit cost must not be negative")
	}
	tracked := false
	if s.products != nil {
		var err error
		tracked, err = s.products.BatchTracked(ctx, input.ProductID)
		if err != nil {
			return ReceiveResult{}, err
		}
	}
	var result ReceiveResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		entry, err := s.ApplyMovement(ctx, tx, MovementInput{
			WarehouseID:   input.WarehouseID,
			ProductID:     input.ProductID,
			Type:          MovementInflow,
			Quantity:      input.Quantity,
			UnitCost:      input.UnitCost,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Note:          input.Note,
			ActorID:       input.ActorID,
		})
		if err != nil {
			return err
		}
		result.Transaction = entry
		if tracked {
			batch, err := s.ReceiveBatch(ctx, tx, input)
			if err != nil {
				return err
			}
			result.Batch = &batch
		}
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:receive", input.WarehouseID, input.ProductID, map[string]any{
		"quantity":  input.Quantity,
		"unit_cost": input.UnitCost.String(),
	})
	return result, nil
}

// ApplyMovement runs the read-modify-write of one position inside the
// caller's transaction. The position row is locked for the duration, so
// concurrent writers on the same (warehouse, product) key serialize.
func (s *Service) ApplyMovement(ctx context.Context, tx TxStore, input MovementInput) (Transaction, error) {
	if err := validateMovement(input); err != nil {
		return Transaction{}, err
	}
	pos, err := tx.GetPositionForUpdate(ctx, input.WarehouseID, input.ProductID)
	if err != nil {
		if !errors.Is(err, ErrPositionNotFound) {
			return Transaction{}, err
		}
		// Lazy creation on the first stock-affecting event.
		pos = Position{WarehouseID: input.WarehouseID, ProductID: input.ProductID, AvgCost: decimal.Zero}
	}

	prev := pos.Quantity
	var next int64
	unitCost := input.UnitCost
	switch input.Type {
	case MovementInflow:
		next = prev + input.Quantity
		if prev <= 0 {
			// A position at or below zero carries no cost basis to blend
			// with; the receipt sets the new basis.
			pos.AvgCost = input.UnitCost
		} else {
			newAvg, err := costing.ReconcileReceipt(prev, pos.AvgCost, input.Quantity, input.UnitCost.Mul(decimal.NewFromInt(input.Quantity)))
			if err != nil {
				return Transaction{}, err
			}
			pos.AvgCost = newAvg
		}
	case MovementOutflow:
		next = prev - input.Quantity
		if next < 0 {
			allowNeg, err := s.allowNegative(ctx, input.WarehouseID)
			if err != nil {
				return Transaction{}, err
			}
			if !allowNeg {
				return Transaction{}, fmt.Errorf("%w: warehouse %d product %d has %d, requested %d",
					ErrInsufficientStock, input.WarehouseID, input.ProductID, prev, input.Quantity)
			}
		}
		// Outflows are valued at the current average cost.
		unitCost = pos.AvgCost
		if next <= 0 {
			pos.AvgCost = decimal.Zero
		}
	default:
		return Transaction{}, fmt.Errorf("stock: unknown movement type %q", input.Type)
	}

	now := s.now().UTC()
	pos.Quantity = next
	pos.LastUpdated = now
	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return Transaction{}, err
	}

	entry := Transaction{
		WarehouseID:      input.WarehouseID,
		ProductID:        input.ProductID,
		Type:             input.Type,
		Quantity:         input.Quantity,
		PreviousQuantity: prev,
		NewQuantity:      next,
		UnitCost:         unitCost,
		ReferenceType:    input.ReferenceType,
		ReferenceID:      input.ReferenceID,
		Note:             input.Note,
		CreatedBy:        input.ActorID,
		CreatedAt:        now,
	}
	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, err
	}
	entry.ID = id
	return entry, nil
}

// ConsumeBatches takes quantity from active, non-expired batches in FEFO
// order (earliest expiry first, creation order as tie-break). Callers must
// pair it with an equivalent outflow in the same transaction.
func (s *Service) ConsumeBatches(ctx context.Context, tx TxStore, productID, quantity int64) ([]BatchConsumption, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	batches, err := tx.ListConsumableBatches(ctx, productID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	remaining := quantity
	var consumed []BatchConsumption
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := b.RemainingQuantity
		if take > remaining {
			take = remaining
		}
		left := b.RemainingQuantity - take
		status := b.Status
		if left == 0 {
			status = BatchDepleted
		}
		if err := tx.UpdateBatchConsumption(ctx, b.ID, left, status); err != nil {
			return nil, err
		}
		consumed = append(consumed, BatchConsumption{BatchID: b.ID, BatchNumber: b.BatchNumber, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: product %d short by %d", ErrInsufficientBatchStock, productID, remaining)
	}
	return consumed, nil
}

// ReceiveBatch creates a batch row inside the caller's transaction,
// generating a collision-checked batch number when none is supplied.
func (s *Service) ReceiveBatch(ctx context.Context, tx TxStore, input ReceiveInput) (Batch, error) {
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	now := s.now().UTC()
	number := input.BatchNumber
	if number == "" {
		var err error
		number, err = s.generateBatchNumber(ctx, tx, input.ProductID, now)
		if err != nil {
			return Batch{}, err
		}
	} else {
		exists, err := tx.BatchNumberExists(ctx, input.ProductID, number)
		if err != nil {
			return Batch{}, err
		}
		if exists {
			return Batch{}, fmt.Errorf("%w: %s", ErrBatchNumberTaken, number)
		}
	}
	batch := Batch{
		ProductID:         input.ProductID,
		BatchNumber:       number,
		Quantity:          input.Quantity,
		RemainingQuantity: input.Quantity,
		PurchasePrice:     input.UnitCost,
		ExpiryDate:        input.ExpiryDate,
		ManufacturingDate: input.ManufacturingDate,
		Supplier:          input.Supplier,
		Status:            BatchActive,
		CreatedAt:         now,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = id
	return batch, nil
}

// SweepExpiredBatches marks batches expired where the expiry date has
// passed and stock remains. Quantities are never altered here.
func (s *Service) SweepExpiredBatches(ctx context.Context) (int64, error) {
	return s.store.MarkExpiredBatches(ctx, s.now().UTC())
}

// GetPosition returns the current position for a key.
func (s *Service) GetPosition(ctx context.Context, warehouseID, productID int64) (Position, error) {
	return s.store.GetPosition(ctx, warehouseID, productID)
}

// ListTransactions returns transaction history plus the total row count.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	return s.store.ListTransactions(ctx, filter)
}

// ListBatches lists batches in FEFO order.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error) {
	return s.store.ListBatches(ctx, filter)
}

func (s *Service) allowNegative(ctx context.Context, warehouseID int64) (bool, error) {
	if s.warehouses == nil {
		return s.cfg.AllowNegativeStock, nil
	}
	return s.warehouses.AllowNegativeStock(ctx, warehouseID)
}

func (s *Service) generateBatchNumber(ctx context.Context, tx TxStore, productID int64, now time.Time) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := strings.ToUpper(uuid.NewString()[:4])
		number := fmt.Sprintf("B%s-%s", now.Format("20060102"), suffix)
		exists, err := tx.BatchNumberExists(ctx, productID, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("stock: could not generate a unique batch number for product %d", productID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, warehouseID, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["warehouse_id"] = warehouseID
	meta["product_id"] = productID
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_position",
		EntityID: fmt.Sprintf("%d:%d", warehouseID, productID),
		Meta:     meta,
	})
}

func validateMovement(input MovementInput) error {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return fmt.Errorf("stock: warehouse and product required")
	}
	if input.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if input.Type == MovementInflow && input.UnitCost.IsNegative() {
		return fmt.Errorf("stock: unit cost must not be negative")
	}
	return nil
}
