package transfer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Handler wires HTTP endpoints for warehouse transfers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/dispatch", h.handleDispatch)
	r.Post("/{id}/process", h.handleProcess)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/reject", h.handleReject)
}

type createRequest struct {
	FromWarehouseID int64             `json:"from_warehouse_id" validate:"required"`
	ToWarehouseID   int64             `json:"to_warehouse_id" validate:"required"`
	Items           []itemRequestLine `json:"items" validate:"required,min=1,dive"`
}

type itemRequestLine struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
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
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		ActorID:         actorID(r),
	}
	for _, line := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	t, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := int(queryInt64(r, "page"))
	perPage := int(queryInt64(r, "per_page"))
	transfers, total, err := h.service.List(r.Context(), Status(r.URL.Query().Get("status")), page, perPage)
	if err != nil {
		h.respondError(w, r, "list transfers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transfers":  transfers,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	t, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer": t, "items": items})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve transfer", h.service.Approve)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "dispatch transfer", h.service.Dispatch)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "process transfer", h.service.Process)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel transfer", h.service.Cancel)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject transfer", h.service.Reject)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, transferID, actorID int64) (Transfer, error)) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	t, err := fn(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSameWarehouse), errors.Is(err, ErrNoItems), errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidTransferState):
		httpx.Problem(w, http.StatusConflict, "Invalid Transfer State", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Processed", "this transfer is being processed")
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrInsufficientBatchStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, db.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", "the operation lost a write race, retry")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
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
