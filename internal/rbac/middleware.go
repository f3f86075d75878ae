package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/shared"
)

// Middleware wires role checks for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireUser admits any signed-in active user and stores the actor on the
// request context.
func (m Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, ok := m.resolve(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny admits actors holding at least one of roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	allowed := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return m.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := shared.ActorFromContext(r.Context())
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[actor.Role]; ok {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Fail(w, http.StatusForbidden, "", shared.ErrForbidden.Error())
		}))
	}
}

// RequireAdmin is RequireAny(shared.RoleAdmin).
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAny(shared.RoleAdmin)(next)
}

func (m Middleware) resolve(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	userID, ok := m.currentUserID(r)
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, "", "sign in required")
		return shared.Actor{}, false
	}
	actor, err := m.Service.Resolve(r.Context(), userID)
	switch {
	case err == nil:
		return actor, true
	case errors.Is(err, ErrInactive), errors.Is(err, shared.ErrNotFound):
		httpx.Fail(w, http.StatusForbidden, "", shared.ErrForbidden.Error())
	default:
		m.logger().Error("rbac resolve actor", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "", "unknown error")
	}
	return shared.Actor{}, false
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger().Error("rbac parse user id", slog.String("value", raw))
		return 0, false
	}
	return id, true
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizeRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = normalizeRole(r)
		if r == "" {
			continue
		}
		out[r] = struct{}{}
	}
	return out
}
