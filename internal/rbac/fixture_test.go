package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo   *memoryRepo
	audit  *memoryAudit
	policy *Policy
	roles  map[string]int64
	cache  *MemoryPermissionCache
	graph  *Graph
	authz  *Authorizer
	svc    *Service
	admin  Identity
}

func newFixture(t *testing.T, fallback FallbackMap, legacy LegacyChecker) *fixture {
	t.Helper()
	policy, err := DefaultPolicy()
	require.NoError(t, err)
	repo := newMemoryRepo()
	f := &fixture{
		repo:   repo,
		audit:  &memoryAudit{},
		policy: policy,
		roles:  repo.seed(policy),
		cache:  NewMemoryPermissionCache(0),
		admin:  repo.addPrincipal(Identity{ID: 1, Username: "admin", Superuser: true, Active: true}),
	}
	logger := discardLogger()
	f.graph = NewGraph(repo, policy.Registry(), f.cache, logger)
	f.authz = NewAuthorizer(policy.Registry(), f.graph, fallback, legacy, logger)
	f.svc = NewService(repo, f.authz, f.graph, f.audit, logger)
	return f
}

func (f *fixture) principal(t *testing.T, id int64, roles ...string) Identity {
	t.Helper()
	ident := f.repo.addPrincipal(Identity{ID: id, Username: "user", Active: true})
	for _, name := range roles {
		roleID, ok := f.roles[name]
		require.True(t, ok, "role %s not seeded", name)
		require.NoError(t, f.svc.AssignRole(context.Background(), f.admin, id, roleID))
	}
	return ident
}

func (f *fixture) allowed(t *testing.T, p Principal, code string) bool {
	t.Helper()
	decision, err := f.authz.Authorize(context.Background(), p, code)
	require.NoError(t, err)
	return decision.Allowed
}
