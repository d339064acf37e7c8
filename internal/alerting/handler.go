package alerting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the notification feed.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the alerting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/unread-count", h.handleUnreadCount)
	r.Post("/{id}/read", h.handleMarkRead)
	r.Post("/read-all", h.handleMarkAllRead)
	r.Post("/sweep", h.handleSweep)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := int(queryInt64(r, "page"))
	perPage := int(queryInt64(r, "per_page"))
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, total, err := h.service.List(r.Context(), unreadOnly, page, perPage)
	if err != nil {
		h.respondError(w, r, "list notifications", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"pagination":    shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context())
	if err != nil {
		h.respondError(w, r, "unread count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"unread": n})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be an integer")
		return
	}
	if err := h.service.MarkRead(r.Context(), id); err != nil {
		h.respondError(w, r, "mark read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"read": true})
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkAllRead(r.Context())
	if err != nil {
		h.respondError(w, r, "mark all read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"read": n})
}

// handleSweep triggers both sweeps on demand; the scheduler normally
// drives them.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	lowStock, err := h.service.SweepLowStock(r.Context())
	if err != nil {
		h.respondError(w, r, "sweep low stock", err)
		return
	}
	expiry, err := h.service.SweepExpiry(r.Context())
	if err != nil {
		h.respondError(w, r, "sweep expiry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"low_stock": lowStock,
		"expiry":    expiry,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}
