package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	audithttp "github.com/giftdrive/casework/internal/audit/http"
	"github.com/giftdrive/casework/internal/auth"
	"github.com/giftdrive/casework/internal/households"
	"github.com/giftdrive/casework/internal/observability"
	"github.com/giftdrive/casework/internal/rbac"
	"github.com/giftdrive/casework/internal/registration"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
	"github.com/giftdrive/casework/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	SessionManager      *shared.SessionManager
	CSRFManager         *shared.CSRFManager
	AuthHandler         *auth.Handler
	RegistrationHandler *registration.Handler
	UsersHandler        *users.Handler
	RolesHandler        *rbac.Handler
	HouseholdsHandler   *households.Handler
	AuditHandler        *audithttp.Handler
	JobHandler          *jobs.Handler
	RBACMiddleware      rbac.Middleware
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with casework defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authLimit := 10
	if params.Config != nil && params.Config.AuthRateLimitPerMinute > 0 {
		authLimit = params.Config.AuthRateLimitPerMinute
	}
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(authLimit, time.Minute))
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.RegistrationHandler != nil {
			params.RegistrationHandler.MountRoutes(r)
		}
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireAdmin)
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r)
		}
		if params.RegistrationHandler != nil {
			params.RegistrationHandler.MountAdminRoutes(r)
		}
		if params.UsersHandler != nil {
			params.UsersHandler.MountRoutes(r)
		}
	})

	if params.HouseholdsHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireUser)
			r.Get("/options", params.HouseholdsHandler.HandleOptions)
			r.Route("/households", params.HouseholdsHandler.MountRoutes)
		})
	}

	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAdmin)
			params.AuditHandler.MountRoutes(r)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAdmin)
			params.JobHandler.MountRoutes(r)
		})
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
