package households

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/shared"
)

// Handler exposes household intake over HTTP. Routes expect an actor on the
// request context.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rootURL  string
	pageSize int
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, rootURL string, pageSize int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rootURL: rootURL, pageSize: pageSize}
}

// MountRoutes registers the household routes under /households.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleShow)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/submit", h.handleSubmit)
	r.Post("/{id}/review", h.handleReview)
}

// HandleOptions serves the accepted enumerated values.
func (h *Handler) HandleOptions(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Options())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page := shared.NewPage(r.URL.Query(), h.pageSize)
	items, total, err := h.service.List(r.Context(), actor, page)
	if err != nil {
		h.respond(w, err)
		return
	}
	views := make([]any, len(items))
	for i, item := range items {
		views[i] = item.View()
	}
	httpx.JSON(w, http.StatusOK, shared.NewPageResult(shared.BaseURL(r), page, total, views))
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := householdID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	household, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, household.View())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	household, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, household.View())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := householdID(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	household, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, household.View())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := householdID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := householdID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	household, err := h.service.Submit(r.Context(), actor, shared.RootURL(r, h.rootURL), id)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, household.View())
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := householdID(w, r)
	if !ok {
		return
	}
	var in ReviewInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	household, err := h.service.Review(r.Context(), actor, id, in)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, household.View())
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	var fieldErr *FieldError
	switch {
	case errors.As(err, &fieldErr):
		httpx.Fail(w, http.StatusUnprocessableEntity, fieldErr.Field, fieldErr.Message)
	case errors.Is(err, shared.ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, "", "unknown household")
	case errors.Is(err, shared.ErrForbidden):
		httpx.Fail(w, http.StatusForbidden, "", shared.ErrForbidden.Error())
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrDraft):
		httpx.Fail(w, http.StatusConflict, "draft", err.Error())
	default:
		h.logger.Error("household request failed", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "", "unknown error")
	}
}

func householdID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "id", "invalid household id")
		return 0, false
	}
	return id, true
}
