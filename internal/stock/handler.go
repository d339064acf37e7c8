package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger and batch registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleMovement)
	r.Post("/outbound", h.handleOutbound)
	r.Post("/receipts", h.handleReceipt)
	r.Get("/positions", h.handlePosition)
	r.Get("/transactions", h.handleTransactions)
	r.Get("/batches", h.handleBatches)
	r.Post("/batches/sweep-expired", h.handleSweepExpired)
}

type movementRequest struct {
	WarehouseID   int64  `json:"warehouse_id" validate:"required"`
	ProductID     int64  `json:"product_id" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=inflow outflow"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost      string `json:"unit_cost"`
	ReferenceType string `json:"reference_type" validate:"required,oneof=purchase sale transfer adjustment creation"`
	ReferenceID   string `json:"reference_id"`
	Note          string `json:"note"`
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := parseDecimal(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a valid number")
		return
	}
	entry, err := h.service.PostMovement(r.Context(), MovementInput{
		WarehouseID:   req.WarehouseID,
		ProductID:     req.ProductID,
		Type:          MovementType(req.Type),
		Quantity:      req.Quantity,
		UnitCost:      unitCost,
		ReferenceType: ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		Note:          req.Note,
		ActorID:       actorID(r),
	})
	if err != nil {
		h.respondError(w, r, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type outboundRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	ProductID   int64  `json:"product_id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	ReferenceID string `json:"reference_id"`
	Note        string `json:"note"`
}

func (h *Handler) handleOutbound(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.PostOutbound(r.Context(), OutboundInput{
		WarehouseID:   req.WarehouseID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		ReferenceType: RefSale,
		ReferenceID:   req.ReferenceID,
		Note:          req.Note,
		ActorID:       actorID(r),
	})
	if err != nil {
		h.respondError(w, r, "post outbound", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type receiptRequest struct {
	WarehouseID       int64  `json:"warehouse_id" validate:"required"`
	ProductID         int64  `json:"product_id" validate:"required"`
	Quantity          int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost          string `json:"unit_cost" validate:"required"`
	BatchNumber       string `json:"batch_number"`
	ExpiryDate        string `json:"expiry_date"`
	ManufacturingDate string `json:"manufacturing_date"`
	Supplier          string `json:"supplier"`
	ReferenceID       string `json:"reference_id"`
	Note              string `json:"note"`
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := parseDecimal(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a valid number")
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
		return
	}
	manufactured, err := parseDate(req.ManufacturingDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "manufacturing_date must be YYYY-MM-DD")
		return
	}
	result, err := h.service.ReceiveIntoStock(r.Context(), ReceiveInput{
		WarehouseID:       req.WarehouseID,
		ProductID:         req.ProductID,
		Quantity:          req.Quantity,
		UnitCost:          unitCost,
		BatchNumber:       req.BatchNumber,
		ExpiryDate:        expiry,
		ManufacturingDate: manufactured,
		Supplier:          req.Supplier,
		ReferenceType:     RefAdjustment,
		ReferenceID:       req.ReferenceID,
		Note:              req.Note,
		ActorID:           actorID(r),
	})
	if err != nil {
		h.respondError(w, r, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	warehouseID := queryInt64(r, "warehouse_id")
	productID := queryInt64(r, "product_id")
	if warehouseID == 0 || productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id and product_id are required")
		return
	}
	pos, err := h.service.GetPosition(r.Context(), warehouseID, productID)
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			// A key with no movements is an empty position, not an error.
			httpx.JSON(w, http.StatusOK, Position{WarehouseID: warehouseID, ProductID: productID})
			return
		}
		h.respondError(w, r, "get position", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pos)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	filter := TransactionFilter{
		WarehouseID:   queryInt64(r, "warehouse_id"),
		ProductID:     queryInt64(r, "product_id"),
		Type:          MovementType(r.URL.Query().Get("type")),
		ReferenceType: ReferenceType(r.URL.Query().Get("reference_type")),
		Page:          int(queryInt64(r, "page")),
		PerPage:       int(queryInt64(r, "per_page")),
	}
	var err error
	if filter.From, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
		return
	}
	if filter.To, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
		return
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	entries, total, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"pagination":   shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	filter := BatchFilter{
		ProductID: queryInt64(r, "product_id"),
		Status:    BatchStatus(r.URL.Query().Get("status")),
		Page:      int(queryInt64(r, "page")),
		PerPage:   int(queryInt64(r, "per_page")),
	}
	batches, total, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batches":    batches,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	marked, err := h.service.SweepExpiredBatches(r.Context())
	if err != nil {
		h.respondError(w, r, "sweep expired batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expired": marked})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInsufficientBatchStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Batch Stock", err.Error())
	case errors.Is(err, ErrBatchNumberTaken):
		httpx.Problem(w, http.StatusConflict, "Batch Number Taken", err.Error())
	case errors.Is(err, masterdata.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, db.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", "the operation lost a write race, retry")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
