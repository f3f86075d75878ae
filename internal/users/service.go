package users

import (
	"context"

	"github.com/giftdrive/casework/internal/shared"
)

// ListFilter narrows dashboard listings.
type ListFilter struct {
	PendingApproval bool
}

// RepositoryPort defines data access methods for the dashboard.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter, page shared.Page) ([]User, int, error)
	FindByID(ctx context.Context, id int64) (*User, error)
}

// Service handles user listing for administrators.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns one page of users.
func (s *Service) List(ctx context.Context, filter ListFilter, page shared.Page) ([]User, int, error) {
	return s.repo.List(ctx, filter, page)
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}
