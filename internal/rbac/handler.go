package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/shared"
)

// Handler exposes role listing and assignment.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers role routes under /users. Callers apply the admin
// requirement.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Put("/{id}/role", h.assignRole)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string][]string{"roles": Roles})
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "id", "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if err := h.service.AssignRole(r.Context(), id, req.Role); err != nil {
		switch {
		case errors.Is(err, ErrUnknownRole):
			httpx.Fail(w, http.StatusUnprocessableEntity, "role", "unknown role")
		case errors.Is(err, shared.ErrNotFound):
			httpx.Fail(w, http.StatusNotFound, "", "unknown user")
		default:
			h.logger.Error("assign role", slog.Int64("user_id", id), slog.Any("error", err))
			httpx.Fail(w, http.StatusInternalServerError, "", "unknown error")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"role": normalizeRole(req.Role)})
}
