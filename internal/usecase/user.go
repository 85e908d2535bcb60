package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/security"
	"github.com/techsupport4/crm-auth/internal/repository"
)

// UserService implements the admin-facing account management operations.
// Every mutation re-checks the role hierarchy server side: an admin can only
// act on plain users, a super-admin on anyone but the reserved account.
type UserService struct {
	users     port.UserRepository
	tokens    port.TokenRepository
	hasher    *security.PasswordHasher
	validator *security.PasswordValidator
	policy    domain.SuperAdminPolicy
	mailer    port.Mailer
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService constructs the service.
func NewUserService(
	users port.UserRepository,
	tokens port.TokenRepository,
	hasher *security.PasswordHasher,
	validator *security.PasswordValidator,
	policy domain.SuperAdminPolicy,
	log *zap.Logger,
) *UserService {
	return &UserService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		validator: validator,
		policy:    policy,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithMailer enables best-effort welcome emails for freshly created accounts.
func (s *UserService) WithMailer(mailer port.Mailer) *UserService {
	s.mailer = mailer
	return s
}

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// List returns all accounts, sanitized, with effective permissions resolved.
func (s *UserService) List(ctx context.Context, actor domain.User) ([]domain.User, error) {
	if !s.effectiveRole(actor).AtLeast(domain.RoleAdmin) {
		return nil, ErrForbidden
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		u.PasswordHash = ""
		u.Role = s.policy.EffectiveRole(u)
		u.Permissions = s.policy.EffectivePermissions(u)
		out = append(out, u)
	}
	return out, nil
}

// Create registers a new account on behalf of an admin. Admins may only
// create plain users; super-admins may also create admins. The super_admin
// role is never assignable, it belongs to the reserved email alone.
func (s *UserService) Create(ctx context.Context, actor domain.User, in CreateUserInput) (*domain.User, error) {
	actorRole := s.effectiveRole(actor)
	if !actorRole.AtLeast(domain.RoleAdmin) {
		return nil, ErrForbidden
	}

	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role == domain.RoleSuperAdmin {
		return nil, ErrForbidden
	}
	if role == domain.RoleAdmin && actorRole != domain.RoleSuperAdmin {
		return nil, ErrForbidden
	}
	if s.policy.IsReserved(in.Email) {
		return nil, ErrReservedAccount
	}

	if err := s.validator.Validate(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        domain.NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         role,
		Permissions:  domain.DefaultPermissions(),
		IsActive:     true,
		CreatedBy:    &actor.ID,
		CreatedAt:    s.now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		// The pre-check above races with concurrent creates; the unique
		// index is the authority.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("role", string(role)),
		zap.String("created_by", actor.ID),
	)

	if s.mailer != nil {
		if err := s.mailer.SendWelcome(ctx, user.Email, user.Name); err != nil {
			s.logger.Warn("welcome mail failed",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	user.PasswordHash = ""
	return &user, nil
}

// UpdateProfile changes name and email of a target account.
func (s *UserService) UpdateProfile(ctx context.Context, actor domain.User, targetID, name, email string) error {
	target, err := s.authorizeMutation(ctx, actor, targetID)
	if err != nil {
		return err
	}

	if s.policy.IsReserved(email) && !s.policy.IsReserved(target.Email) {
		return ErrReservedAccount
	}

	if domain.NormalizeEmail(email) != target.Email {
		if _, err := s.users.GetByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check email: %w", err)
		}
	}

	if err := s.users.UpdateProfile(ctx, targetID, name, email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UpdateRole changes the stored role of a target account. Nobody can grant
// super_admin, change their own role, or touch the reserved account.
func (s *UserService) UpdateRole(ctx context.Context, actor domain.User, targetID string, role domain.Role) error {
	if !role.Valid() || role == domain.RoleSuperAdmin {
		return ErrForbidden
	}
	if targetID == actor.ID {
		return ErrForbidden
	}
	if role == domain.RoleAdmin && s.effectiveRole(actor) != domain.RoleSuperAdmin {
		return ErrForbidden
	}

	target, err := s.authorizeMutation(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if s.policy.IsReserved(target.Email) {
		return ErrReservedAccount
	}

	if err := s.users.UpdateRole(ctx, targetID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update role: %w", err)
	}

	// A role change invalidates every outstanding session.
	s.revokeSessions(ctx, targetID)
	return nil
}

// UpdatePermissions overwrites the capability set of a target account.
func (s *UserService) UpdatePermissions(ctx context.Context, actor domain.User, targetID string, perms domain.Permissions) error {
	if _, err := s.authorizeMutation(ctx, actor, targetID); err != nil {
		return err
	}

	if err := s.users.UpdatePermissions(ctx, targetID, perms); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update permissions: %w", err)
	}
	return nil
}

// SetActive activates or deactivates a target account. Self-deactivation and
// deactivating the reserved account are refused. Deactivation revokes every
// refresh token the target holds.
func (s *UserService) SetActive(ctx context.Context, actor domain.User, targetID string, active bool) error {
	if !active && targetID == actor.ID {
		return ErrForbidden
	}

	target, err := s.authorizeMutation(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if !active && s.policy.IsReserved(target.Email) {
		return ErrReservedAccount
	}

	if err := s.users.SetActive(ctx, targetID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("set active: %w", err)
	}

	if !active {
		s.revokeSessions(ctx, targetID)
	}
	return nil
}

// Delete removes a target account permanently, along with its sessions.
func (s *UserService) Delete(ctx context.Context, actor domain.User, targetID string) error {
	if targetID == actor.ID {
		return ErrForbidden
	}

	target, err := s.authorizeMutation(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if s.policy.IsReserved(target.Email) {
		return ErrReservedAccount
	}

	s.revokeSessions(ctx, targetID)

	if err := s.users.Delete(ctx, targetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.logger.Info("user deleted",
		zap.String("user_id", targetID),
		zap.String("deleted_by", actor.ID),
	)
	return nil
}

// authorizeMutation loads the target and verifies the actor outranks it.
// Acting on yourself is allowed; the per-operation self checks run first.
func (s *UserService) authorizeMutation(ctx context.Context, actor domain.User, targetID string) (*domain.User, error) {
	actorRole := s.effectiveRole(actor)
	if !actorRole.AtLeast(domain.RoleAdmin) {
		return nil, ErrForbidden
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup target: %w", err)
	}

	if target.ID == actor.ID {
		return target, nil
	}

	if s.policy.IsReserved(target.Email) {
		return nil, ErrReservedAccount
	}

	targetRole := s.policy.EffectiveRole(*target)
	if actorRole != domain.RoleSuperAdmin && targetRole.AtLeast(actorRole) {
		return nil, ErrForbidden
	}

	return target, nil
}

func (s *UserService) effectiveRole(actor domain.User) domain.Role {
	return s.policy.EffectiveRole(actor)
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if _, err := s.tokens.RevokeByUser(ctx, userID); err != nil {
		s.logger.Warn("revoke user sessions failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
