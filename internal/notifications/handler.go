package notifications

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
	"github.com/covenant-clm/covenant/internal/shared"
)

// Handler manages notification endpoints. All routes are scoped to the
// authenticated identity.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Use(shared.RequireRole(shared.RoleAdmin, shared.RoleStaff))
		r.Get("/", h.list)
		r.Get("/unread-count", h.unreadCount)
		r.Put("/{id}/read", h.markRead)
		r.Put("/read-all", h.markAllRead)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := h.service.List(r.Context(), identity.UserID, unreadOnly)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err), slog.Int64("user_id", identity.UserID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	count, err := h.service.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("count unread notifications", slog.Any("error", err), slog.Int64("user_id", identity.UserID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid notification id")
		return
	}

	n, err := h.service.MarkRead(r.Context(), id, identity.UserID)
	if err != nil {
		h.logger.Error("mark notification read", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	updated, err := h.service.MarkAllRead(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("mark all notifications read", slog.Any("error", err), slog.Int64("user_id", identity.UserID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
