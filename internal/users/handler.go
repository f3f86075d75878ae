package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/shared"
)

// Handler manages user dashboard endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	pageSize int
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pageSize int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, pageSize: pageSize}
}

// MountRoutes registers read-only user routes. Callers wrap the router with
// the admin requirement.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/pending", h.listPending)
	r.Get("/{id}", h.showUser)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, ListFilter{})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, ListFilter{PendingApproval: true})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter ListFilter) {
	page := shared.NewPage(r.URL.Query(), h.pageSize)
	items, total, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPageResult(shared.BaseURL(r), page, total, items))
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "id", "invalid user id")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "", "unknown user")
			return
		}
		h.logger.Error("get user failed", slog.Any("error", err), slog.Int64("user_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}
