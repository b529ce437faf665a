package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/authzcore/internal/platform/httpx"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, p)
	if Authenticated(p) {
		ctx = shared.ContextWithActor(ctx, p.GetID())
	}
	return ctx
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Audit      shared.AuditRecorder
	Logger     *slog.Logger
}

// Require ensures the current principal holds perm.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return m.RequireAll(perm)
}

// RequireAny ensures the current principal has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(ctx context.Context, p Principal) (Decision, error) {
		return m.Authorizer.AuthorizeAny(ctx, p, normalized...)
	})
}

// RequireAll ensures the current principal has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(ctx context.Context, p Principal) (Decision, error) {
		return m.Authorizer.AuthorizeAll(ctx, p, normalized...)
	})
}

// guard panics when built without permissions so a misconfigured route never
// goes unprotected.
func (m Middleware) guard(perms []string, check func(context.Context, Principal) (Decision, error)) func(http.Handler) http.Handler {
	if len(perms) == 0 {
		panic("rbac: guard requires at least one permission")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			decision, err := check(r.Context(), p)
			if err != nil {
				m.logger().Error("rbac guard", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			m.recordDenial(r, p, decision)
			httpx.RespondError(w, decision.Err())
		})
	}
}

func (m Middleware) recordDenial(r *http.Request, p Principal, decision Decision) {
	if m.Audit == nil {
		return
	}
	err := m.Audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actorID(p),
		Action:   r.Method,
		Entity:   "http",
		EntityID: r.URL.Path,
		Outcome:  shared.AuditDenied,
		Reason:   string(decision.Reason),
		Meta:     map[string]any{"permission": decision.Code},
	})
	if err != nil {
		m.logger().Error("rbac audit denied", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
