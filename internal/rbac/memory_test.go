package rbac

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	nextID     int64
	principals map[int64]Identity
	roles      map[int64]*Role
	perms      map[string]Permission
	userRoles  map[int64]map[int64]struct{}
	loads      atomic.Int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		principals: make(map[int64]Identity),
		roles:      make(map[int64]*Role),
		perms:      make(map[string]Permission),
		userRoles:  make(map[int64]map[int64]struct{}),
	}
}

func (r *memoryRepo) addPrincipal(ident Identity) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.principals[ident.ID] = ident
	return ident
}

func (r *memoryRepo) seed(policy *Policy) map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	ids := make(map[string]int64)
	for _, perm := range policy.Registry().All() {
		_ = tx.UpsertPermission(context.Background(), perm)
	}
	for _, declared := range policy.Roles {
		role, _ := tx.CreateRole(context.Background(), Role{Name: declared.Name, Active: true})
		for _, code := range policy.RolePermissions(declared).Codes() {
			_ = tx.GrantPermission(context.Background(), role.ID, code)
		}
		ids[declared.Name] = role.ID
	}
	return ids
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) RolesOf(ctx context.Context, principalID int64) ([]Role, error) {
	r.loads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []Role
	for roleID := range r.userRoles[principalID] {
		roles = append(roles, r.copyRole(roleID))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *memoryRepo) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), role.Permissions...), nil
}

func (r *memoryRepo) GetPrincipal(ctx context.Context, id int64) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.principals[id]
	if !ok {
		return Identity{}, fmt.Errorf("principal %d: %w", id, ErrNotFound)
	}
	return ident, nil
}

func (r *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := make([]Role, 0, len(r.roles))
	for id := range r.roles {
		roles = append(roles, r.copyRole(id))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *memoryRepo) copyRole(id int64) Role {
	role := *r.roles[id]
	role.Permissions = append([]string(nil), role.Permissions...)
	sort.Strings(role.Permissions)
	return role
}

func (tx *memoryTx) GetRole(ctx context.Context, id int64) (Role, error) {
	if _, ok := tx.repo.roles[id]; !ok {
		return Role{}, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	return tx.repo.copyRole(id), nil
}

func (tx *memoryTx) FindRoleByKey(ctx context.Context, key string) (Role, bool, error) {
	for id, role := range tx.repo.roles {
		if role.Key() == key {
			return tx.repo.copyRole(id), true, nil
		}
	}
	return Role{}, false, nil
}

func (tx *memoryTx) CreateRole(ctx context.Context, role Role) (Role, error) {
	if _, exists, _ := tx.FindRoleByKey(ctx, role.Key()); exists {
		return Role{}, ErrDuplicateRole
	}
	tx.repo.nextID++
	role.ID = tx.repo.nextID
	stored := role
	tx.repo.roles[role.ID] = &stored
	return role, nil
}

func (tx *memoryTx) SetRoleActive(ctx context.Context, roleID int64, active bool) error {
	role, ok := tx.repo.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Active = active
	return nil
}

func (tx *memoryTx) AssignRole(ctx context.Context, userID, roleID int64) error {
	if tx.repo.userRoles[userID] == nil {
		tx.repo.userRoles[userID] = make(map[int64]struct{})
	}
	tx.repo.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (tx *memoryTx) RevokeRole(ctx context.Context, userID, roleID int64) error {
	delete(tx.repo.userRoles[userID], roleID)
	return nil
}

func (tx *memoryTx) GrantPermission(ctx context.Context, roleID int64, code string) error {
	if _, ok := tx.repo.perms[code]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, code)
	}
	role, ok := tx.repo.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range role.Permissions {
		if existing == code {
			return nil
		}
	}
	role.Permissions = append(role.Permissions, code)
	return nil
}

func (tx *memoryTx) RevokePermission(ctx context.Context, roleID int64, code string) error {
	role, ok := tx.repo.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	kept := role.Permissions[:0]
	for _, existing := range role.Permissions {
		if existing != code {
			kept = append(kept, existing)
		}
	}
	role.Permissions = kept
	return nil
}

func (tx *memoryTx) UpsertPermission(ctx context.Context, perm Permission) error {
	tx.repo.perms[perm.Code] = perm
	return nil
}

func (tx *memoryTx) PermissionInUse(ctx context.Context, code string) (bool, error) {
	for _, role := range tx.repo.roles {
		for _, existing := range role.Permissions {
			if existing == code {
				return true, nil
			}
		}
	}
	return false, nil
}

func (tx *memoryTx) DeletePermission(ctx context.Context, code string) error {
	if _, ok := tx.repo.perms[code]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.perms, code)
	return nil
}

func (tx *memoryTx) SetPrincipalActive(ctx context.Context, userID int64, active bool) error {
	ident, ok := tx.repo.principals[userID]
	if !ok {
		return ErrNotFound
	}
	ident.Active = active
	tx.repo.principals[userID] = ident
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
	err     error
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, log)
	return nil
}

func (a *memoryAudit) byOutcome(outcome shared.AuditOutcome) []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.AuditLog
	for _, entry := range a.entries {
		if entry.Outcome == outcome {
			out = append(out, entry)
		}
	}
	return out
}

type stubLegacy struct {
	known  map[string]bool
	grants map[int64]map[string]bool
}

func (s stubLegacy) Has(ctx context.Context, principalID int64, legacyID string) (bool, error) {
	return s.grants[principalID][legacyID], nil
}

func (s stubLegacy) Exists(ctx context.Context, legacyID string) (bool, error) {
	return s.known[legacyID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
