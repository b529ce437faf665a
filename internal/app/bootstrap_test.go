package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/rbac"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

type stubReader struct{}

func (stubReader) RolesOf(context.Context, int64) ([]rbac.Role, error) { return nil, nil }

func (stubReader) RolePermissions(context.Context, int64) ([]string, error) { return nil, nil }

type stubLegacy struct {
	known  map[string]bool
	grants map[int64]map[string]bool
}

func (s stubLegacy) Exists(_ context.Context, legacyID string) (bool, error) {
	return s.known[legacyID], nil
}

func (s stubLegacy) Has(_ context.Context, principalID int64, legacyID string) (bool, error) {
	return s.grants[principalID][legacyID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAuthzFallback(t *testing.T) {
	legacy := stubLegacy{
		known:  map[string]bool{"ventas.view_orden": true, "compras.recibir_orden": true},
		grants: map[int64]map[string]bool{8: {"ventas.view_orden": true, "compras.recibir_orden": true}},
	}
	cfg := &Config{
		RBACCacheBackend: CacheBackendMemory,
		PermFallbackMap:  "sales.order.view:ventas.view_orden,purchases.order.receive:compras.recibir_orden",
	}
	authz, err := NewAuthz(context.Background(), cfg, stubReader{}, legacy, nil, discardLogger())
	require.NoError(t, err)
	require.Equal(t, 2, authz.Fallback.Len())
	require.Len(t, authz.Warnings, 1)
	require.Contains(t, authz.Warnings[0], "purchases.order.receive")

	legacyUser := rbac.Identity{ID: 8, Active: true}
	decision, err := authz.Authorizer.Authorize(context.Background(), legacyUser, "sales.order.view")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, rbac.GrantFallback, decision.Grant)

	decision, err = authz.Authorizer.Authorize(context.Background(), legacyUser, "sales.order.confirm")
	require.NoError(t, err)
	require.ErrorIs(t, decision.Err(), shared.ErrForbidden)
}

func TestNewAuthzRejectsBadFallback(t *testing.T) {
	legacy := stubLegacy{known: map[string]bool{"ventas.view_orden": true}}
	ctx := context.Background()

	_, err := NewAuthz(ctx, &Config{PermFallbackMap: "sales.order.view"}, stubReader{}, legacy, nil, discardLogger())
	require.Error(t, err)

	_, err = NewAuthz(ctx, &Config{PermFallbackMap: "sales.order.export:ventas.view_orden"}, stubReader{}, legacy, nil, discardLogger())
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewAuthz(ctx, &Config{PermFallbackMap: "sales.order.view:ventas.borrar_orden"}, stubReader{}, legacy, nil, discardLogger())
	require.Error(t, err)
}

func TestNewAuthzPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`permissions:
  - {code: stock.product.view, description: Ver productos}
roles:
  - name: Operador
    permissions: [stock.product.view]
fallback: {}
`), 0o600))

	authz, err := NewAuthz(context.Background(), &Config{RBACPolicyFile: path}, stubReader{}, nil, nil, discardLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"stock.product.view"}, authz.Registry.Codes())

	_, err = NewAuthz(context.Background(), &Config{RBACPolicyFile: filepath.Join(t.TempDir(), "missing.yaml")}, stubReader{}, nil, nil, discardLogger())
	require.Error(t, err)
}

func TestNewPermissionCache(t *testing.T) {
	memory, err := NewPermissionCache(&Config{RBACCacheBackend: CacheBackendMemory, RBACCacheTTL: time.Minute}, nil)
	require.NoError(t, err)
	require.IsType(t, &rbac.MemoryPermissionCache{}, memory)

	_, err = NewPermissionCache(&Config{RBACCacheBackend: CacheBackendRedis}, nil)
	require.Error(t, err)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisCache, err := NewPermissionCache(&Config{RBACCacheBackend: CacheBackendRedis, RBACCacheTTL: time.Minute}, client)
	require.NoError(t, err)
	require.IsType(t, &rbac.RedisPermissionCache{}, redisCache)

	ctx := context.Background()
	stamp, err := redisCache.Stamp(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, redisCache.Set(ctx, stamp, 3, rbac.NewPermissionSet("stock.product.view")))
	set, ok, err := redisCache.Get(ctx, stamp, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, set.Has("stock.product.view"))
}
