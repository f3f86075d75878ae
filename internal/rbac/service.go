package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giftdrive/casework/internal/shared"
)

// Service resolves actors and manages role assignment.
type Service struct {
	store  RoleStore
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store RoleStore, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// Resolve loads the actor for userID. Inactive accounts yield ErrInactive.
func (s *Service) Resolve(ctx context.Context, userID int64) (shared.Actor, error) {
	role, active, err := s.store.Role(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	if !active {
		return shared.Actor{}, ErrInactive
	}
	return shared.Actor{ID: userID, Role: normalizeRole(role)}, nil
}

// AssignRole changes the role of userID.
func (s *Service) AssignRole(ctx context.Context, userID int64, role string) error {
	role = normalizeRole(role)
	if !ValidRole(role) {
		return ErrUnknownRole
	}
	if err := s.store.SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	entry := shared.AuditLog{
		Action:   shared.AuditRoleAssigned,
		Entity:   "user",
		EntityID: shared.EntityID(userID),
		Meta:     map[string]any{"role": role},
	}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		entry.ActorID = actor.ID
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit role assignment", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return nil
}
