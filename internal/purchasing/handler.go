package purchasing

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
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/receive", h.handleReceive)
	r.Post("/{id}/payments", h.handlePayment)
	r.Post("/{id}/cancel", h.handleCancel)
}

type createRequest struct {
	SupplierID  int64             `json:"supplier_id" validate:"required"`
	WarehouseID int64             `json:"warehouse_id" validate:"required"`
	TaxRate     string            `json:"tax_rate"`
	Freight     string            `json:"freight"`
	Discount    string            `json:"discount"`
	Items       []itemRequestLine `json:"items" validate:"required,min=1,dive"`
}

type itemRequestLine struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		SupplierID:  req.SupplierID,
		WarehouseID: req.WarehouseID,
		ActorID:     actorID(r),
	}
	var err error
	if input.TaxRate, err = parseDecimal(req.TaxRate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tax_rate is not a valid number")
		return
	}
	if input.Freight, err = parseDecimal(req.Freight); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "freight is not a valid number")
		return
	}
	if input.Discount, err = parseDecimal(req.Discount); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount is not a valid number")
		return
	}
	for _, line := range req.Items {
		price, err := parseDecimal(line.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price is not a valid number")
			return
		}
		input.Items = append(input.Items, ItemInput{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: price})
	}
	po, items, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"order": po, "items": items})
}

type receiveRequest struct {
	Lines []receiveRequestLine `json:"lines" validate:"required,min=1,dive"`
}

type receiveRequestLine struct {
	ProductID         int64  `json:"product_id" validate:"required"`
	Quantity          int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice         string `json:"unit_price"`
	BatchNumber       string `json:"batch_number"`
	ExpiryDate        string `json:"expiry_date"`
	ManufacturingDate string `json:"manufacturing_date"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{
		OrderID:        id,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        actorID(r),
	}
	for _, line := range req.Lines {
		parsed := ReceiveLine{ProductID: line.ProductID, Quantity: line.Quantity, BatchNumber: line.BatchNumber}
		var err error
		if parsed.UnitPrice, err = parseDecimal(line.UnitPrice); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price is not a valid number")
			return
		}
		if parsed.ExpiryDate, err = parseDate(line.ExpiryDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
			return
		}
		if parsed.ManufacturingDate, err = parseDate(line.ManufacturingDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "manufacturing_date must be YYYY-MM-DD")
			return
		}
		input.Lines = append(input.Lines, parsed)
	}
	result, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "receive purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type paymentRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a valid number")
		return
	}
	po, err := h.service.RecordPayment(r.Context(), id, amount, actorID(r))
	if err != nil {
		h.respondError(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	po, err := h.service.Cancel(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, "cancel purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	po, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": po, "items": items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := int(queryInt64(r, "page"))
	perPage := int(queryInt64(r, "per_page"))
	orders, total, err := h.service.List(r.Context(), Status(r.URL.Query().Get("status")), page, perPage)
	if err != nil {
		h.respondError(w, r, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     orders,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, masterdata.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOverReceipt):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Receipt", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownLine), errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid Order State", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Processed", "this receipt was already submitted")
	case errors.Is(err, stock.ErrBatchNumberTaken):
		httpx.Problem(w, http.StatusConflict, "Batch Number Taken", err.Error())
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

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
