package port

import (
	"context"

	"github.com/techsupport4/crm-auth/internal/core/domain"
)

// UserRepository exposes persistence behavior for user accounts.
// Email lookups are case-insensitive; callers pass normalized emails.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateProfile(ctx context.Context, id string, name string, email string) error
	UpdateRole(ctx context.Context, id string, role domain.Role) error
	UpdatePermissions(ctx context.Context, id string, perms domain.Permissions) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}
