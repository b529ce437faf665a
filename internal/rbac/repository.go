package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	GraphReader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPrincipal(ctx context.Context, id int64) (Identity, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByKey(ctx context.Context, key string) (Role, bool, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	SetRoleActive(ctx context.Context, roleID int64, active bool) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
	GrantPermission(ctx context.Context, roleID int64, code string) error
	RevokePermission(ctx context.Context, roleID int64, code string) error
	UpsertPermission(ctx context.Context, perm Permission) error
	PermissionInUse(ctx context.Context, code string) (bool, error)
	DeletePermission(ctx context.Context, code string) error
	SetPrincipalActive(ctx context.Context, userID int64, active bool) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	tx   shared.Transactor
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, tx shared.Transactor) *Repository {
	return &Repository{pool: pool, tx: tx}
}

type txRepo struct {
	q shared.Querier
}

// WithTx runs fn inside the transaction bound to ctx, opening one when absent.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: shared.QuerierFrom(ctx, r.pool)})
	})
}

const rolesWithPermissions = `SELECT r.id, r.name, r.description, r.is_active, r.created_at, r.updated_at,
	COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')::text[]
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id`

// RolesOf implements GraphReader.
func (r *Repository) RolesOf(ctx context.Context, principalID int64) ([]Role, error) {
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, rolesWithPermissions+`
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
GROUP BY r.id
ORDER BY r.name`, principalID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, rolesWithPermissions+`
GROUP BY r.id
ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// RolePermissions implements GraphReader.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, `SELECT p.code FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GetPrincipal loads a principal by id.
func (r *Repository) GetPrincipal(ctx context.Context, id int64) (Identity, error) {
	var ident Identity
	err := shared.QuerierFrom(ctx, r.pool).QueryRow(ctx, `SELECT id, username, is_superuser, is_active FROM users WHERE id = $1`, id).
		Scan(&ident.ID, &ident.Username, &ident.Superuser, &ident.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, fmt.Errorf("principal %d: %w", id, ErrNotFound)
		}
		return Identity{}, err
	}
	return ident, nil
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.CreatedAt, &role.UpdatedAt, &role.Permissions); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (t *txRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	rows, err := t.q.Query(ctx, rolesWithPermissions+`
WHERE r.id = $1
GROUP BY r.id`, id)
	if err != nil {
		return Role{}, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	return roles[0], nil
}

func (t *txRepo) FindRoleByKey(ctx context.Context, key string) (Role, bool, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT id FROM roles WHERE name_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, false, nil
	}
	if err != nil {
		return Role{}, false, err
	}
	role, err := t.GetRole(ctx, id)
	if err != nil {
		return Role{}, false, err
	}
	return role, true, nil
}

func (t *txRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO roles (name, name_key, description, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING id, created_at, updated_at`, role.Name, role.Key(), role.Description, role.Active).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRole, role.Name)
		}
		return Role{}, err
	}
	return role, nil
}

func (t *txRepo) SetRoleActive(ctx context.Context, roleID int64, active bool) error {
	return expectOne(t.q.Exec(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1`, roleID, active))
}

func (t *txRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := t.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return err
}

func (t *txRepo) RevokeRole(ctx context.Context, userID, roleID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

func (t *txRepo) GrantPermission(ctx context.Context, roleID int64, code string) error {
	tag, err := t.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, p.id FROM permissions p WHERE p.code = $2
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE code = $1)`, code).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, code)
		}
	}
	return nil
}

func (t *txRepo) RevokePermission(ctx context.Context, roleID int64, code string) error {
	_, err := t.q.Exec(ctx, `DELETE FROM role_permissions rp USING permissions p
WHERE rp.permission_id = p.id AND rp.role_id = $1 AND p.code = $2`, roleID, code)
	return err
}

func (t *txRepo) UpsertPermission(ctx context.Context, perm Permission) error {
	_, err := t.q.Exec(ctx, `INSERT INTO permissions (code, description, read_only) VALUES ($1, $2, $3)
ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description, read_only = EXCLUDED.read_only`, perm.Code, perm.Description, perm.ReadOnly)
	return err
}

func (t *txRepo) PermissionInUse(ctx context.Context, code string) (bool, error) {
	var used bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id WHERE p.code = $1)`, code).Scan(&used)
	return used, err
}

func (t *txRepo) DeletePermission(ctx context.Context, code string) error {
	return expectOne(t.q.Exec(ctx, `DELETE FROM permissions WHERE code = $1`, code))
}

func (t *txRepo) SetPrincipalActive(ctx context.Context, userID int64, active bool) error {
	return expectOne(t.q.Exec(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, userID, active))
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
