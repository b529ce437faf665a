package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// GraphReader loads role membership from persistence.
type GraphReader interface {
	// RolesOf returns every role assigned to the principal, active or not,
	// each carrying its permission codes.
	RolesOf(ctx context.Context, principalID int64) ([]Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
}

// Graph resolves principal → roles → permissions with a per-principal cache of
// the precomputed union. Returned sets are shared and must not be mutated.
type Graph struct {
	reader   GraphReader
	registry *Registry
	cache    PermissionCache
	group    singleflight.Group
	logger   *slog.Logger
}

// NewGraph constructs a Graph. A nil cache falls back to an unbounded memory cache.
func NewGraph(reader GraphReader, registry *Registry, cache PermissionCache, logger *slog.Logger) *Graph {
	if cache == nil {
		cache = NewMemoryPermissionCache(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{reader: reader, registry: registry, cache: cache, logger: logger}
}

// RolesOf returns the roles assigned to a principal.
func (g *Graph) RolesOf(ctx context.Context, principalID int64) ([]Role, error) {
	roles, err := g.reader.RolesOf(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles of %d: %w", principalID, err)
	}
	return roles, nil
}

// PermissionsOf returns the registered permissions granted to a role.
func (g *Graph) PermissionsOf(ctx context.Context, roleID int64) (PermissionSet, error) {
	codes, err := g.reader.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions of role %d: %w", roleID, err)
	}
	return g.registry.Filter(NewPermissionSet(codes...)), nil
}

// EffectivePermissions returns the union of permissions over the principal's active roles.
// The cache stamp is captured before loading so a set read ahead of an
// invalidation is never stored as current.
func (g *Graph) EffectivePermissions(ctx context.Context, principalID int64) (PermissionSet, error) {
	stamp, err := g.cache.Stamp(ctx, principalID)
	if err != nil {
		g.logger.Warn("rbac cache stamp", slog.Int64("principal_id", principalID), slog.Any("error", err))
		return g.load(ctx, principalID)
	}
	set, ok, err := g.cache.Get(ctx, stamp, principalID)
	if err != nil {
		g.logger.Warn("rbac cache get", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
	if ok {
		return set, nil
	}
	v, err, _ := g.group.Do(flightKey(stamp, principalID), func() (any, error) {
		loaded, err := g.load(ctx, principalID)
		if err != nil {
			return nil, err
		}
		if err := g.cache.Set(ctx, stamp, principalID, loaded); err != nil {
			g.logger.Warn("rbac cache set", slog.Int64("principal_id", principalID), slog.Any("error", err))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

// InvalidatePrincipal drops the cached set of one principal. Loads already in
// flight finish but their result is not cached.
func (g *Graph) InvalidatePrincipal(ctx context.Context, principalID int64) error {
	return g.cache.Invalidate(ctx, principalID)
}

// InvalidateAll drops every cached set.
func (g *Graph) InvalidateAll(ctx context.Context) error {
	return g.cache.InvalidateAll(ctx)
}

func (g *Graph) load(ctx context.Context, principalID int64) (PermissionSet, error) {
	roles, err := g.RolesOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet)
	for _, role := range roles {
		if !role.Active {
			continue
		}
		for _, code := range role.Permissions {
			set[NormalizeCode(code)] = struct{}{}
		}
	}
	return g.registry.Filter(set), nil
}

func flightKey(stamp Stamp, principalID int64) string {
	return strconv.FormatInt(stamp.Generation, 10) + ":" + strconv.FormatInt(stamp.Epoch, 10) + ":" + strconv.FormatInt(principalID, 10)
}
