package registration

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/platform/validation"
	"github.com/giftdrive/casework/internal/shared"
)

// Handler exposes the registration workflow over HTTP.
type Handler struct {
	logger    *slog.Logger
	workflow  *Workflow
	rootURL   string
	validator *validator.Validate
}

// NewHandler constructs a Handler. rootURL may be empty, in which case links
// are built from the request host.
func NewHandler(logger *slog.Logger, workflow *Workflow, rootURL string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		workflow:  workflow,
		rootURL:   rootURL,
		validator: validation.New(),
	}
}

// MountRoutes registers the public registration routes under /auth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/confirm_email", h.handleConfirmEmail)
}

// MountAdminRoutes registers approval under /users. Callers apply the admin
// requirement.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Post("/{id}/approve", h.handleApprove)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegistrationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		field, msg, _ := validation.First(err)
		httpx.Fail(w, http.StatusUnprocessableEntity, field, msg)
		return
	}

	if err := h.workflow.Register(r.Context(), shared.RootURL(r, h.rootURL), in); err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": string(StateRegistered)})
}

func (h *Handler) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var in ConfirmInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		field, msg, _ := validation.First(err)
		httpx.Fail(w, http.StatusUnprocessableEntity, field, msg)
		return
	}

	if err := h.workflow.ConfirmEmail(r.Context(), shared.RootURL(r, h.rootURL), in); err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StateEmailVerified)})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "id", "invalid user id")
		return
	}
	if err := h.workflow.Approve(r.Context(), id); err != nil {
		h.respond(w, err)
		return
	}
	h.workflow.NotifyActivated(r.Context(), shared.RootURL(r, h.rootURL), id)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StateActive)})
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	var fieldErr *FieldError
	switch {
	case errors.As(err, &fieldErr):
		httpx.Fail(w, http.StatusUnprocessableEntity, fieldErr.Field, fieldErr.Message)
	case errors.Is(err, ErrCodeMismatch):
		httpx.Fail(w, http.StatusBadRequest, "confirmation_code", err.Error())
	case errors.Is(err, ErrUnknownUser):
		httpx.Fail(w, http.StatusNotFound, "", err.Error())
	default:
		if !errors.Is(err, ErrUnknown) {
			h.logger.Error("registration request failed", slog.Any("error", err))
		}
		httpx.Fail(w, http.StatusInternalServerError, "", ErrUnknown.Error())
	}
}
