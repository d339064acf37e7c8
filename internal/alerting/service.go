package alerting

import (
	"context"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotificationStore is the persistence port for the alert engine.
type NotificationStore interface {
	InsertIfNoUnread(ctx context.Context, n Notification) (bool, error)
	ListLowStock(ctx context.Context) ([]LowStockRow, error)
	ListExpiringBatches(ctx context.Context, horizon time.Time) ([]ExpiringBatchRow, error)
	List(ctx context.Context, unreadOnly bool, page, perPage int) ([]Notification, int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) (int64, error)
	UnreadCount(ctx context.Context) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config groups alert engine policy settings.
type Config struct {
	// ExpiryHorizonDays bounds how far ahead the expiry sweep looks.
	ExpiryHorizonDays int
	// Retention is how long notifications live before the purge removes
	// them.
	Retention time.Duration
}

// Service runs the periodic sweeps and serves the notification feed.
// Sweeps are read-mostly and tolerate stale ledger reads; they are safe
// to run on any schedule.
type Service struct {
	store   NotificationStore
	cache   *Cache
	cfg     Config
	printer *message.Printer
	now     func() time.Time
}

// NewService constructs the alert engine.
func NewService(store NotificationStore, cache *Cache, cfg Config) *Service {
	if cfg.ExpiryHorizonDays <= 0 {
		cfg.ExpiryHorizonDays = 30
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Service{
		store:   store,
		cache:   cache,
		cfg:     cfg,
		printer: message.NewPrinter(language.English),
		now:     time.Now,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// SweepLowStock raises a LOW_STOCK notification for every position at or
// below its product's minimum, critical when the shelf is empty. An
// existing unread notification for the product suppresses a new one, so
// repeated sweeps are idempotent.
func (s *Service) SweepLowStock(ctx context.Context) (SweepReport, error) {
	rows, err := s.store.ListLowStock(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	now := s.now().UTC()
	report := SweepReport{Scanned: len(rows)}
	for _, row := range rows {
		priority := PriorityHigh
		title := "Low stock"
		if row.Quantity <= 0 {
			priority = PriorityCritical
			title = "Stockout"
		}
		inserted, err := s.store.InsertIfNoUnread(ctx, Notification{
			Type:       TypeLowStock,
			Priority:   priority,
			Title:      title,
			Message:    s.printer.Sprintf("%s has %d units in warehouse %d (minimum %d)", row.ProductName, row.Quantity, row.WarehouseID, row.MinStockLevel),
			EntityType: "product",
			EntityID:   row.ProductID,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.Retention),
		})
		if err != nil {
			return report, err
		}
		if inserted {
			report.Raised++
		}
	}
	if report.Raised > 0 {
		_ = s.cache.Invalidate(ctx)
	}
	return report, nil
}

// SweepExpiry raises an EXPIRY_WARNING per batch inside the horizon,
// graded by days remaining, and a BATCH_EXPIRY for batches already past
// their date with stock still on the shelf. Deduplicated per batch.
func (s *Service) SweepExpiry(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	horizon := now.AddDate(0, 0, s.cfg.ExpiryHorizonDays)
	rows, err := s.store.ListExpiringBatches(ctx, horizon)
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{Scanned: len(rows)}
	for _, row := range rows {
		n := Notification{
			EntityType: "batch",
			EntityID:   row.BatchID,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.Retention),
		}
		daysLeft := int(row.ExpiryDate.Sub(now).Hours() / 24)
		if row.ExpiryDate.Before(now) {
			n.Type = TypeBatchExpiry
			n.Priority = PriorityCritical
			n.Title = "Batch expired"
			n.Message = s.printer.Sprintf("batch %s of %s expired on %s with %d units remaining",
				row.BatchNumber, row.ProductName, row.ExpiryDate.Format("2006-01-02"), row.RemainingQuantity)
		} else {
			n.Type = TypeExpiryWarning
			n.Priority = expiryPriority(daysLeft)
			n.Title = "Batch expiring soon"
			n.Message = s.printer.Sprintf("batch %s of %s expires in %d days (%d units remaining)",
				row.BatchNumber, row.ProductName, daysLeft, row.RemainingQuantity)
		}
		inserted, err := s.store.InsertIfNoUnread(ctx, n)
		if err != nil {
			return report, err
		}
		if inserted {
			report.Raised++
		}
	}
	if report.Raised > 0 {
		_ = s.cache.Invalidate(ctx)
	}
	return report, nil
}

func expiryPriority(daysLeft int) Priority {
	switch {
	case daysLeft <= 7:
		return PriorityCritical
	case daysLeft <= 15:
		return PriorityHigh
	case daysLeft <= 30:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// List returns the notification feed.
func (s *Service) List(ctx context.Context, unreadOnly bool, page, perPage int) ([]Notification, int, error) {
	return s.store.List(ctx, unreadOnly, page, perPage)
}

// MarkRead flips one notification and invalidates the badge count.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	if err := s.store.MarkRead(ctx, id); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx)
}

// MarkAllRead flips every unread notification.
func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := s.store.MarkAllRead(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// UnreadCount serves the badge, via the cache when one is configured.
func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	return s.cache.UnreadCount(ctx, s.store.UnreadCount)
}

// PurgeExpired removes notifications past retention.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = s.cache.Invalidate(ctx)
	}
	return n, nil
}
