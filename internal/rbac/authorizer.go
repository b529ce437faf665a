package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
)

// Grant names the rule that allowed a request.
type Grant string

const (
	GrantNone      Grant = ""
	GrantSuperuser Grant = "superuser"
	GrantRole      Grant = "role"
	GrantFallback  Grant = "fallback"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
	Grant   Grant
	Code    string
}

// Err converts a denial into shared.ErrUnauthenticated or shared.ErrForbidden.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthenticated:
		return fmt.Errorf("rbac: %s: %w", d.Code, shared.ErrUnauthenticated)
	default:
		return fmt.Errorf("rbac: %s: %w", d.Code, shared.ErrForbidden)
	}
}

func allow(code string, grant Grant) Decision {
	return Decision{Allowed: true, Grant: grant, Code: code}
}

func deny(code string, reason Reason) Decision {
	return Decision{Reason: reason, Code: code}
}

// PermissionSource yields the role-derived permission set of a principal.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, principalID int64) (PermissionSet, error)
}

// Authorizer evaluates principal + permission code → Decision.
type Authorizer struct {
	registry *Registry
	source   PermissionSource
	fallback FallbackMap
	legacy   LegacyChecker
	logger   *slog.Logger
}

// NewAuthorizer constructs the decision engine. legacy may be nil when fallback is empty.
func NewAuthorizer(registry *Registry, source PermissionSource, fallback FallbackMap, legacy LegacyChecker, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{registry: registry, source: source, fallback: fallback, legacy: legacy, logger: logger}
}

// Registry exposes the permission catalog.
func (a *Authorizer) Registry() *Registry { return a.registry }

// Authenticated reports whether p is a usable principal.
func Authenticated(p Principal) bool {
	if p == nil {
		return false
	}
	if id, ok := p.(*Identity); ok && id == nil {
		return false
	}
	return p.GetID() != 0 && p.IsActive()
}

// Authorize evaluates, in order: authentication, superuser bypass, role
// membership, legacy fallback. The first matching rule wins.
func (a *Authorizer) Authorize(ctx context.Context, p Principal, code string) (Decision, error) {
	code = NormalizeCode(code)
	if !Authenticated(p) {
		return deny(code, ReasonUnauthenticated), nil
	}
	if p.IsSuperUser() {
		return allow(code, GrantSuperuser), nil
	}
	if !a.registry.Has(code) {
		a.logger.Debug("rbac unknown permission", slog.String("code", code), slog.Int64("principal_id", p.GetID()))
		return deny(code, ReasonForbidden), nil
	}
	granted, err := a.source.EffectivePermissions(ctx, p.GetID())
	if err != nil {
		return Decision{Code: code}, fmt.Errorf("rbac: authorize %s: %w", code, err)
	}
	if granted.Has(code) {
		return allow(code, GrantRole), nil
	}
	ok, err := a.fallbackGrants(ctx, p.GetID(), code)
	if err != nil {
		return Decision{Code: code}, fmt.Errorf("rbac: authorize %s: %w", code, err)
	}
	if ok {
		return allow(code, GrantFallback), nil
	}
	return deny(code, ReasonForbidden), nil
}

// AuthorizeAll allows when every code is allowed; the first denial is returned.
func (a *Authorizer) AuthorizeAll(ctx context.Context, p Principal, codes ...string) (Decision, error) {
	if len(codes) == 0 {
		return Decision{}, errors.New("rbac: no permission requested")
	}
	var last Decision
	for _, code := range codes {
		decision, err := a.Authorize(ctx, p, code)
		if err != nil || !decision.Allowed {
			return decision, err
		}
		last = decision
	}
	return last, nil
}

// AuthorizeAny allows when at least one code is allowed.
func (a *Authorizer) AuthorizeAny(ctx context.Context, p Principal, codes ...string) (Decision, error) {
	if len(codes) == 0 {
		return Decision{}, errors.New("rbac: no permission requested")
	}
	var first Decision
	for i, code := range codes {
		decision, err := a.Authorize(ctx, p, code)
		if err != nil {
			return decision, err
		}
		if decision.Allowed {
			return decision, nil
		}
		if i == 0 {
			first = decision
		}
	}
	return first, nil
}

// PermissionsOf returns every registered code the principal would be allowed.
func (a *Authorizer) PermissionsOf(ctx context.Context, p Principal) (PermissionSet, error) {
	if !Authenticated(p) {
		return PermissionSet{}, nil
	}
	if p.IsSuperUser() {
		return a.registry.Set(), nil
	}
	granted, err := a.source.EffectivePermissions(ctx, p.GetID())
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions of %d: %w", p.GetID(), err)
	}
	out := granted.Union(nil)
	for _, code := range a.fallback.Codes() {
		if out.Has(code) || !a.registry.Has(code) {
			continue
		}
		ok, err := a.fallbackGrants(ctx, p.GetID(), code)
		if err != nil {
			return nil, fmt.Errorf("rbac: permissions of %d: %w", p.GetID(), err)
		}
		if ok {
			out[code] = struct{}{}
		}
	}
	return out, nil
}

func (a *Authorizer) fallbackGrants(ctx context.Context, principalID int64, code string) (bool, error) {
	legacyID, ok := a.fallback.Lookup(code)
	if !ok || a.legacy == nil {
		return false, nil
	}
	return a.legacy.Has(ctx, principalID, legacyID)
}
