package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// TxStore is the transactional port for purchase orders. It embeds the
// stock ledger's tx store so order rows, ledger inflows and batch rows
// commit as one unit of work.
type TxStore interface {
	stock.TxStore
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []Item, error)
	InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertOrderItem(ctx context.Context, item Item) (int64, error)
	UpdateOrder(ctx context.Context, po PurchaseOrder) error
	UpdateOrderItem(ctx context.Context, item Item) error
	InsertPayment(ctx context.Context, orderID int64, amount decimal.Decimal, at time.Time) error
}

// Store is the persistence port for the purchasing service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []Item, error)
	ListOrders(ctx context.Context, status Status, page, perPage int) ([]PurchaseOrder, int, error)
}

// LedgerPort exposes the tx-scoped ledger operations receiving needs.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, tx stock.TxStore, input stock.MovementInput) (stock.Transaction, error)
	ReceiveBatch(ctx context.Context, tx stock.TxStore, input stock.ReceiveInput) (stock.Batch, error)
}

// ProductCatalog resolves product pricing and batch policy.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns purchase order lifecycle and the receiving engine.
type Service struct {
	store       Store
	ledger      LedgerPort
	products    ProductCatalog
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the purchasing service.
func NewService(store Store, ledger LedgerPort, products ProductCatalog, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{store: store, ledger: ledger, products: products, audit: audit, idempotency: idem, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Create registers an open purchase order and computes its totals.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, []Item, error) {
	if input.SupplierID == 0 || input.WarehouseID == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("purchasing: supplier and warehouse required")
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("purchasing: at least one item required")
	}
	subTotal := decimal.Zero
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return PurchaseOrder{}, nil, stock.ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return PurchaseOrder{}, nil, fmt.Errorf("purchasing: unit price must not be negative")
		}
		subTotal = subTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}

	now := s.now().UTC()
	po := PurchaseOrder{
		Number:      fmt.Sprintf("PO-%d", now.UnixNano()),
		SupplierID:  input.SupplierID,
		WarehouseID: input.WarehouseID,
		Status:      StatusOpen,
		TaxRate:     input.TaxRate,
		Freight:     input.Freight,
		Discount:    input.Discount,
		SubTotal:    subTotal,
		AmountPaid:  decimal.Zero,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
	}
	po.GrandTotal = grandTotal(po)

	var items []Item
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		id, err := tx.InsertOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, in := range input.Items {
			item := Item{OrderID: id, ProductID: in.ProductID, OrderedQty: in.Quantity, UnitPrice: in.UnitPrice}
			itemID, err := tx.InsertOrderItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "purchasing:create", po.ID, map[string]any{"number": po.Number, "grand_total": po.GrandTotal.String()})
	return po, items, nil
}

// Receive applies a partial or full receipt against an open order. Every
// line's over-receipt check, ledger inflow, optional batch creation and
// order-item update happen in one transaction; a failure on any line
// leaves the order and the ledger untouched. Margin warnings are
// advisory and returned alongside the result.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if len(input.Lines) == 0 {
		return ReceiveResult{}, fmt.Errorf("purchasing: at least one receive line required")
	}
	key := ""
	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		key = fmt.Sprintf("po:receive:%d:%s", input.OrderID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "purchasing"); err != nil {
			return ReceiveResult{}, err
		}
		insertedKey = true
	}

	var result ReceiveResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		po, items, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if po.Status != StatusOpen {
			return fmt.Errorf("%w: cannot receive against %s order", ErrInvalidState, po.Status)
		}

		byProduct := make(map[int64]*Item, len(items))
		for i := range items {
			byProduct[items[i].ProductID] = &items[i]
		}

		var warnings []Warning
		for _, line := range input.Lines {
			if line.Quantity <= 0 {
				return stock.ErrInvalidQuantity
			}
			item, ok := byProduct[line.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", ErrUnknownLine, line.ProductID)
			}
			if item.ReceivedQty+line.Quantity > item.OrderedQty {
				return fmt.Errorf("%w: product %d ordered %d, already received %d, requested %d",
					ErrOverReceipt, line.ProductID, item.OrderedQty, item.ReceivedQty, line.Quantity)
			}
			unitPrice := line.UnitPrice
			if unitPrice.IsZero() {
				unitPrice = item.UnitPrice
			}

			if _, err := s.ledger.ApplyMovement(ctx, tx, stock.MovementInput{
				WarehouseID:   po.WarehouseID,
				ProductID:     line.ProductID,
				Type:          stock.MovementInflow,
				Quantity:      line.Quantity,
				UnitCost:      unitPrice,
				ReferenceType: stock.RefPurchase,
				ReferenceID:   po.Number,
				Note:          fmt.Sprintf("receipt against %s", po.Number),
				ActorID:       input.ActorID,
			}); err != nil {
				return err
			}

			product, err := s.products.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if product.BatchTracked {
				if _, err := s.ledger.ReceiveBatch(ctx, tx, stock.ReceiveInput{
					ProductID:         line.ProductID,
					Quantity:          line.Quantity,
					UnitCost:          unitPrice,
					BatchNumber:       line.BatchNumber,
					ExpiryDate:        line.ExpiryDate,
					ManufacturingDate: line.ManufacturingDate,
					Supplier:          fmt.Sprintf("supplier-%d", po.SupplierID),
					ReferenceType:     stock.RefPurchase,
					ReferenceID:       po.Number,
				}); err != nil {
					return err
				}
			}

			newPos, err := tx.GetPositionForUpdate(ctx, po.WarehouseID, line.ProductID)
			if err != nil {
				return err
			}
			if warn := costing.CheckMargin(line.ProductID, newPos.AvgCost, product.SellingPrice); warn != nil {
				warnings = append(warnings, Warning{
					ProductID:             warn.ProductID,
					Message:               fmt.Sprintf("average cost %s exceeds selling price %s", warn.AvgCost, warn.SellingPrice),
					AvgCost:               warn.AvgCost,
					SellingPrice:          warn.SellingPrice,
					SuggestedSellingPrice: warn.SuggestedSellingPrice,
				})
			}

			item.ReceivedQty += line.Quantity
			item.UnitPrice = unitPrice
			if err := tx.UpdateOrderItem(ctx, *item); err != nil {
				return err
			}
		}

		if fullyReceived(items) {
			receivedAt := s.now().UTC()
			po.Status = StatusReceived
			po.ReceivedAt = &receivedAt
		}
		if err := tx.UpdateOrder(ctx, po); err != nil {
			return err
		}
		result = ReceiveResult{Order: po, Items: items, Warnings: warnings}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "purchasing:receive", input.OrderID, map[string]any{
		"lines":    len(input.Lines),
		"status":   string(result.Order.Status),
		"warnings": len(result.Warnings),
	})
	return result, nil
}

// RecordPayment increments the amount paid. No stock effect.
func (s *Service) RecordPayment(ctx context.Context, orderID int64, amount decimal.Decimal, actorID int64) (PurchaseOrder, error) {
	if !amount.IsPositive() {
		return PurchaseOrder{}, ErrInvalidAmount
	}
	var updated PurchaseOrder
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		po, _, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status == StatusCancelled {
			return fmt.Errorf("%w: cannot pay a cancelled order", ErrInvalidState)
		}
		po.AmountPaid = po.AmountPaid.Add(amount)
		if err := tx.UpdateOrder(ctx, po); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, orderID, amount, s.now().UTC()); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "purchasing:payment", orderID, map[string]any{"amount": amount.String()})
	return updated, nil
}

// Cancel voids an order. Legal only while it is still open.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		po, _, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusOpen {
			return fmt.Errorf("%w: cannot cancel %s order", ErrInvalidState, po.Status)
		}
		po.Status = StatusCancelled
		if err := tx.UpdateOrder(ctx, po); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "purchasing:cancel", orderID, nil)
	return updated, nil
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, orderID int64) (PurchaseOrder, []Item, error) {
	return s.store.GetOrder(ctx, orderID)
}

// List returns orders filtered by status.
func (s *Service) List(ctx context.Context, status Status, page, perPage int) ([]PurchaseOrder, int, error) {
	return s.store.ListOrders(ctx, status, page, perPage)
}

func fullyReceived(items []Item) bool {
	for _, item := range items {
		if item.ReceivedQty < item.OrderedQty {
			return false
		}
	}
	return true
}

// grandTotal = subTotal + tax + freight - discount.
func grandTotal(po PurchaseOrder) decimal.Decimal {
	tax := po.SubTotal.Mul(po.TaxRate).Div(decimal.NewFromInt(100))
	return po.SubTotal.Add(tax).Add(po.Freight).Sub(po.Discount)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	})
}
