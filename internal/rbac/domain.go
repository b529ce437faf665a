package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Role represents a named permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the uniqueness key of the role name.
func (r Role) Key() string {
	return RoleKey(r.Name)
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Code        string
	Description string
	ReadOnly    bool
}

// UserRole links a principal to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// Principal describes the authenticated actor. Permissions are reachable only
// through role membership; a principal carries no permission list of its own.
type Principal interface {
	GetID() int64
	IsSuperUser() bool
	IsActive() bool
}

// Identity is the persisted principal record.
type Identity struct {
	ID        int64
	Username  string
	Superuser bool
	Active    bool
}

// GetID implements Principal.
func (i Identity) GetID() int64 { return i.ID }

// IsSuperUser implements Principal.
func (i Identity) IsSuperUser() bool { return i.Superuser }

// IsActive implements Principal.
func (i Identity) IsActive() bool { return i.Active }

var (
	// ErrUnknownPermission indicates a code missing from the registry.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", shared.ErrValidation)
	// ErrPermissionInUse indicates a permission still referenced by a role.
	ErrPermissionInUse = fmt.Errorf("rbac: permission in use: %w", shared.ErrInvalidState)
	// ErrDuplicateRole indicates a role name collision after normalisation.
	ErrDuplicateRole = fmt.Errorf("rbac: duplicate role: %w", shared.ErrValidation)
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", shared.ErrNotFound)
)

var foldCaser = cases.Fold()

// NormalizeRoleName trims and NFC-normalises a display name.
func NormalizeRoleName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// RoleKey folds a role name so "Depósito", "DEPÓSITO" and the decomposed
// spelling collide.
func RoleKey(name string) string {
	return foldCaser.String(NormalizeRoleName(name))
}

// PermissionSet is the effective set of permission codes.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codes, normalising each.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, code := range codes {
		code = NormalizeCode(code)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[NormalizeCode(code)]
	return ok
}

// Codes returns the sorted codes.
func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Union merges other into a new set.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for code := range s {
		out[code] = struct{}{}
	}
	for code := range other {
		out[code] = struct{}{}
	}
	return out
}
