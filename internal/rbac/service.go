package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// CacheInvalidator drops cached permission sets after a committed mutation.
type CacheInvalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID int64) error
	InvalidateAll(ctx context.Context) error
}

// Service orchestrates RBAC graph mutations. Each mutation is itself gated by Authorize.
type Service struct {
	repo   RepositoryPort
	authz  *Authorizer
	cache  CacheInvalidator
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, authz *Authorizer, cache CacheInvalidator, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, cache: cache, audit: audit, logger: logger}
}

// SyncReport summarises a policy synchronisation.
type SyncReport struct {
	Permissions  int
	RolesCreated int
	Granted      int
	Revoked      int
}

// Principal loads a principal by id.
func (s *Service) Principal(ctx context.Context, id int64) (Identity, error) {
	return s.repo.GetPrincipal(ctx, id)
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context, actor Principal) ([]Role, error) {
	decision, err := s.authz.Authorize(ctx, actor, shared.PermRolesView)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, s.denied(ctx, actor, "ROLE_LIST", "*", decision)
	}
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new active role.
func (s *Service) CreateRole(ctx context.Context, actor Principal, name, description string) (Role, error) {
	name = NormalizeRoleName(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrValidation)
	}
	var created Role
	err := s.mutate(ctx, actor, shared.PermRolesManage, "ROLE_CREATE", name, func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		if _, exists, err := tx.FindRoleByKey(ctx, RoleKey(name)); err != nil {
			return nil, err
		} else if exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, name)
		}
		role, err := tx.CreateRole(ctx, Role{Name: name, Description: description, Active: true})
		if err != nil {
			return nil, err
		}
		created = role
		return map[string]any{"role_id": role.ID}, nil
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// SetRoleActive activates or deactivates a role. Inactive roles grant nothing.
func (s *Service) SetRoleActive(ctx context.Context, actor Principal, roleID int64, active bool) error {
	err := s.mutate(ctx, actor, shared.PermRolesManage, "ROLE_SET_ACTIVE", idString(roleID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
		return map[string]any{"active": active}, tx.SetRoleActive(ctx, roleID, active)
	})
	if err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// AssignRole assigns a role to the given principal.
func (s *Service) AssignRole(ctx context.Context, actor Principal, userID, roleID int64) error {
	err := s.mutate(ctx, actor, shared.PermRolesAssign, "ROLE_ASSIGN", idString(userID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
		return map[string]any{"role_id": roleID}, tx.AssignRole(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, userID)
	return nil
}

// RevokeRole removes a role from a principal.
func (s *Service) RevokeRole(ctx context.Context, actor Principal, userID, roleID int64) error {
	err := s.mutate(ctx, actor, shared.PermRolesAssign, "ROLE_REVOKE", idString(userID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		return map[string]any{"role_id": roleID}, tx.RevokeRole(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, userID)
	return nil
}

// GrantPermission attaches a registered permission to a role.
func (s *Service) GrantPermission(ctx context.Context, actor Principal, roleID int64, code string) error {
	code = NormalizeCode(code)
	err := s.mutate(ctx, actor, shared.PermRolesManage, "PERMISSION_GRANT", idString(roleID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		if err := s.authz.Registry().Require(code); err != nil {
			return nil, err
		}
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
		return map[string]any{"code": code}, tx.GrantPermission(ctx, roleID, code)
	})
	if err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// RevokePermission detaches a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, actor Principal, roleID int64, code string) error {
	code = NormalizeCode(code)
	err := s.mutate(ctx, actor, shared.PermRolesManage, "PERMISSION_REVOKE", idString(roleID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		return map[string]any{"code": code}, tx.RevokePermission(ctx, roleID, code)
	})
	if err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// DeletePermission removes a permission no role references.
func (s *Service) DeletePermission(ctx context.Context, actor Principal, code string) error {
	code = NormalizeCode(code)
	return s.mutate(ctx, actor, shared.PermRolesManage, "PERMISSION_DELETE", code, func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		used, err := tx.PermissionInUse(ctx, code)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, fmt.Errorf("%w: %s", ErrPermissionInUse, code)
		}
		return nil, tx.DeletePermission(ctx, code)
	})
}

// DeactivatePrincipal disables a principal; it authenticates as nobody afterwards.
func (s *Service) DeactivatePrincipal(ctx context.Context, actor Principal, userID int64) error {
	err := s.mutate(ctx, actor, shared.PermUsersManage, "PRINCIPAL_DEACTIVATE", idString(userID), func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		return nil, tx.SetPrincipalActive(ctx, userID, false)
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, userID)
	return nil
}

// SyncPolicy upserts the declared permissions and makes every declared role
// carry exactly its declared permission set. Undeclared roles are left alone.
func (s *Service) SyncPolicy(ctx context.Context, actor Principal, policy *Policy) (SyncReport, error) {
	if policy == nil || policy.Registry() == nil {
		return SyncReport{}, fmt.Errorf("rbac: policy not loaded: %w", shared.ErrValidation)
	}
	var report SyncReport
	err := s.mutate(ctx, actor, shared.PermRolesManage, "POLICY_SYNC", "*", func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		report = SyncReport{}
		for _, perm := range policy.Registry().All() {
			if err := tx.UpsertPermission(ctx, perm); err != nil {
				return nil, fmt.Errorf("upsert permission %s: %w", perm.Code, err)
			}
			report.Permissions++
		}
		for _, declared := range policy.Roles {
			role, exists, err := tx.FindRoleByKey(ctx, RoleKey(declared.Name))
			if err != nil {
				return nil, err
			}
			if !exists {
				role, err = tx.CreateRole(ctx, Role{Name: declared.Name, Description: declared.Description, Active: true})
				if err != nil {
					return nil, err
				}
				report.RolesCreated++
			}
			want := policy.RolePermissions(declared)
			have := NewPermissionSet(role.Permissions...)
			for _, code := range want.Codes() {
				if have.Has(code) {
					continue
				}
				if err := tx.GrantPermission(ctx, role.ID, code); err != nil {
					return nil, err
				}
				report.Granted++
			}
			for _, code := range have.Codes() {
				if want.Has(code) {
					continue
				}
				if err := tx.RevokePermission(ctx, role.ID, code); err != nil {
					return nil, err
				}
				report.Revoked++
			}
		}
		return map[string]any{
			"permissions":   report.Permissions,
			"roles_created": report.RolesCreated,
			"granted":       report.Granted,
			"revoked":       report.Revoked,
		}, nil
	})
	if err != nil {
		return SyncReport{}, err
	}
	s.invalidateAll(ctx)
	return report, nil
}

func (s *Service) mutate(ctx context.Context, actor Principal, code, action, entityID string, fn func(context.Context, TxRepository) (map[string]any, error)) error {
	decision, err := s.authz.Authorize(ctx, actor, code)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return s.denied(ctx, actor, action, entityID, decision)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		meta, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		return s.record(ctx, shared.AuditLog{ActorID: actorID(actor), Action: action, Entity: "rbac", EntityID: entityID, Outcome: shared.AuditApplied, Meta: meta})
	})
	if err != nil {
		if auditErr := s.record(ctx, shared.AuditLog{ActorID: actorID(actor), Action: action, Entity: "rbac", EntityID: entityID, Outcome: shared.AuditRejected, Reason: err.Error()}); auditErr != nil {
			s.logger.Error("rbac audit rejected", slog.String("action", action), slog.Any("error", auditErr))
			return errors.Join(err, auditErr)
		}
		return err
	}
	s.logger.Info("rbac mutation", slog.String("action", action), slog.String("entity_id", entityID), slog.Int64("actor_id", actorID(actor)))
	return nil
}

func (s *Service) denied(ctx context.Context, actor Principal, action, entityID string, decision Decision) error {
	denial := decision.Err()
	err := s.record(ctx, shared.AuditLog{ActorID: actorID(actor), Action: action, Entity: "rbac", EntityID: entityID, Outcome: shared.AuditDenied, Reason: string(decision.Reason), Meta: map[string]any{"permission": decision.Code}})
	if err != nil {
		s.logger.Error("rbac audit denied", slog.String("action", action), slog.Any("error", err))
		return errors.Join(denial, err)
	}
	return denial
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, log)
}

func (s *Service) invalidatePrincipal(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrincipal(ctx, userID); err != nil {
		s.logger.Error("rbac cache invalidate", slog.Int64("principal_id", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("rbac cache invalidate all", slog.Any("error", err))
	}
}

func actorID(p Principal) int64 {
	if !Authenticated(p) {
		return 0
	}
	return p.GetID()
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
