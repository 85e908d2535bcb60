package domain

import (
	"strings"
	"time"
)

// Role enumerates the account roles in ascending order of privilege.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// rank maps each role onto the strict total order used for floor checks.
func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the role is one of the known enum values.
func (r Role) Valid() bool {
	return r.rank() > 0
}

// AtLeast reports whether the role meets or exceeds the given floor.
func (r Role) AtLeast(floor Role) bool {
	return r.rank() >= floor.rank()
}

// Permissions is the fixed-shape capability set stored per user.
// Absent payloads normalize to read-only defaults at the store boundary.
type Permissions struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Modify bool `json:"modify"`
	Delete bool `json:"delete"`
}

// DefaultPermissions returns the read-only set applied to records that
// predate the permissions column.
func DefaultPermissions() Permissions {
	return Permissions{Read: true}
}

// Has reports whether the named capability is granted.
func (p Permissions) Has(name string) bool {
	switch name {
	case "read":
		return p.Read
	case "write":
		return p.Write
	case "modify":
		return p.Modify
	case "delete":
		return p.Delete
	default:
		return false
	}
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Permissions  Permissions
	IsActive     bool
	CreatedBy    *string
	CreatedAt    time.Time
}

// SuperAdminPolicy encapsulates the reserved super-admin override. The
// reserved email always evaluates to the top role regardless of the stored
// role column, can never be deactivated, and can never be modified by anyone
// but itself. It is deliberately separate from ordinary role comparison.
type SuperAdminPolicy struct {
	reservedEmail string
}

// NewSuperAdminPolicy builds the policy around the reserved email address.
func NewSuperAdminPolicy(reservedEmail string) SuperAdminPolicy {
	return SuperAdminPolicy{reservedEmail: NormalizeEmail(reservedEmail)}
}

// IsReserved reports whether the email is the reserved super-admin identity.
func (p SuperAdminPolicy) IsReserved(email string) bool {
	return p.reservedEmail != "" && NormalizeEmail(email) == p.reservedEmail
}

// EffectiveRole resolves the role authorization must use for the user.
func (p SuperAdminPolicy) EffectiveRole(u User) Role {
	if p.IsReserved(u.Email) {
		return RoleSuperAdmin
	}
	if !u.Role.Valid() {
		return RoleUser
	}
	return u.Role
}

// EffectivePermissions resolves the capability set authorization must use.
// Admin and super-admin implicitly satisfy all four capabilities.
func (p SuperAdminPolicy) EffectivePermissions(u User) Permissions {
	if p.EffectiveRole(u).AtLeast(RoleAdmin) {
		return Permissions{Read: true, Write: true, Modify: true, Delete: true}
	}
	return u.Permissions
}

// NormalizeEmail lowercases and trims an email for case-insensitive lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
