package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// PostgresLegacyChecker reads the legacy auth_permission tables. Identifiers
// take the form "app_label.codename".
type PostgresLegacyChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresLegacyChecker constructs the checker.
func NewPostgresLegacyChecker(pool *pgxpool.Pool) *PostgresLegacyChecker {
	return &PostgresLegacyChecker{pool: pool}
}

// SplitLegacyID splits "app_label.codename".
func SplitLegacyID(legacyID string) (string, string, error) {
	app, codename, ok := strings.Cut(strings.TrimSpace(legacyID), ".")
	if !ok || app == "" || codename == "" {
		return "", "", fmt.Errorf("rbac: legacy permission %q must be app_label.codename", legacyID)
	}
	return app, codename, nil
}

// Exists implements LegacyChecker.
func (c *PostgresLegacyChecker) Exists(ctx context.Context, legacyID string) (bool, error) {
	app, codename, err := SplitLegacyID(legacyID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = shared.QuerierFrom(ctx, c.pool).QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM auth_permission p
	JOIN django_content_type ct ON ct.id = p.content_type_id
	WHERE ct.app_label = $1 AND p.codename = $2)`, app, codename).Scan(&exists)
	return exists, err
}

// Has implements LegacyChecker. Grants come from direct user permissions or group membership.
func (c *PostgresLegacyChecker) Has(ctx context.Context, principalID int64, legacyID string) (bool, error) {
	app, codename, err := SplitLegacyID(legacyID)
	if err != nil {
		return false, err
	}
	var granted bool
	err = shared.QuerierFrom(ctx, c.pool).QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM auth_permission p
	JOIN django_content_type ct ON ct.id = p.content_type_id
	WHERE ct.app_label = $2 AND p.codename = $3 AND (
		EXISTS (SELECT 1 FROM auth_user_user_permissions up WHERE up.user_id = $1 AND up.permission_id = p.id)
		OR EXISTS (
			SELECT 1 FROM auth_user_groups ug
			JOIN auth_group_permissions gp ON gp.group_id = ug.group_id
			WHERE ug.user_id = $1 AND gp.permission_id = p.id)))`, principalID, app, codename).Scan(&granted)
	return granted, err
}
