package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/authzcore/internal/audit"
	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/platform/cache"
	"github.com/odyssey-erp/authzcore/internal/platform/db"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/rbac"
	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
	"github.com/odyssey-erp/authzcore/internal/workflow"
)

// Authz bundles the authorization core built from configuration.
type Authz struct {
	Policy     *rbac.Policy
	Registry   *rbac.Registry
	Graph      *rbac.Graph
	Authorizer *rbac.Authorizer
	Fallback   rbac.FallbackMap
	// Warnings lists fallback entries that grant more than read access.
	Warnings []string
}

// NewAuthz loads the policy, merges the configured fallback map over the policy's
// own entries and validates the result against the registry and the legacy tables.
func NewAuthz(ctx context.Context, cfg *Config, reader rbac.GraphReader, legacy rbac.LegacyChecker, permCache rbac.PermissionCache, logger *slog.Logger) (*Authz, error) {
	policy, err := rbac.LoadPolicy(cfg.RBACPolicyFile)
	if err != nil {
		return nil, err
	}
	override, err := rbac.ParseFallbackMap(cfg.FallbackMap())
	if err != nil {
		return nil, fmt.Errorf("config: PERM_FALLBACK_MAP: %w", err)
	}
	fallback := policy.FallbackMap().Merge(override)
	registry := policy.Registry()
	warnings, err := fallback.Validate(ctx, registry, legacy, logger)
	if err != nil {
		return nil, err
	}
	graph := rbac.NewGraph(reader, registry, permCache, logger)
	return &Authz{
		Policy:     policy,
		Registry:   registry,
		Graph:      graph,
		Authorizer: rbac.NewAuthorizer(registry, graph, fallback, legacy, logger),
		Fallback:   fallback,
		Warnings:   warnings,
	}, nil
}

// NewPermissionCache returns the cache selected by RBAC_CACHE_BACKEND.
func NewPermissionCache(cfg *Config, client redis.UniversalClient) (rbac.PermissionCache, error) {
	switch cfg.RBACCacheBackend {
	case CacheBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("config: redis permission cache requires a redis client")
		}
		return rbac.NewRedisPermissionCache(client, cfg.RBACCacheTTL), nil
	default:
		return rbac.NewMemoryPermissionCache(cfg.RBACCacheTTL), nil
	}
}

// Runtime holds the wired services of the core.
type Runtime struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Authz       *Authz
	RBAC        *rbac.Service
	Inventory   *inventory.Service
	Finance     *finance.Service
	Procurement *procurement.Service
	Sales       *sales.Service
	Audit       *audit.Service
	Dispatcher  *workflow.Dispatcher
}

// Bootstrap connects to PostgreSQL (and Redis when the cache backend needs it)
// and wires every service against one transaction manager.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool}
	if cfg.RBACCacheBackend == CacheBackendRedis {
		client, err := cache.New(ctx, cfg.RedisOptions())
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
	}

	var redisClient redis.UniversalClient
	if rt.Redis != nil {
		redisClient = rt.Redis
	}
	permCache, err := NewPermissionCache(cfg, redisClient)
	if err != nil {
		rt.Close()
		return nil, err
	}

	tx := db.NewTxManager(pool)
	auditLog := shared.NewAuditLogger(pool)
	rbacRepo := rbac.NewRepository(pool, tx)
	authz, err := NewAuthz(ctx, cfg, rbacRepo, rbac.NewPostgresLegacyChecker(pool), permCache, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Authz = authz
	rt.RBAC = rbac.NewService(rbacRepo, authz.Authorizer, authz.Graph, auditLog, logger)

	rt.Inventory = inventory.NewService(inventory.NewRepository(pool, tx), auditLog, logger)
	rt.Finance = finance.NewService(finance.NewRepository(pool, tx), auditLog, finance.Policy{AllowVoidPaid: cfg.FinanceAllowVoidPaid}, logger)
	rt.Procurement = procurement.NewService(procurement.NewRepository(pool, tx), rt.Inventory, rt.Finance, auditLog, logger)
	rt.Sales = sales.NewService(sales.NewRepository(pool, tx), rt.Inventory, rt.Finance, auditLog, logger)
	rt.Audit = audit.NewService(audit.NewRepository(pool))
	rt.Dispatcher = workflow.NewDispatcher(authz.Authorizer, workflow.Services{
		Purchases: rt.Procurement,
		Finance:   rt.Finance,
		Sales:     rt.Sales,
		Stock:     rt.Inventory,
	}, auditLog, logger)

	logger.Info("authz core ready",
		slog.Int("permissions", len(authz.Registry.Codes())),
		slog.Int("fallback_entries", authz.Fallback.Len()),
		slog.Int("fallback_warnings", len(authz.Warnings)),
		slog.String("cache_backend", cfg.RBACCacheBackend))
	return rt, nil
}

// Close releases the connections held by the runtime.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil && r.Logger != nil {
			r.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
