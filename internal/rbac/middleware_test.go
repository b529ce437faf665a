package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/platform/httpx"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

func newGuardedRouter(f *fixture, principal Principal) http.Handler {
	mw := Middleware{Authorizer: f.authz, Audit: f.audit, Logger: discardLogger()}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Require(shared.PermPurchaseOrderReceive))
		r.Post("/purchases/{id}/receive", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Actor", strconv.FormatInt(shared.ActorFromContext(req.Context()), 10))
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAny(shared.PermPurchaseOrderView, shared.PermStockMovementView))
		r.Get("/purchases", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	return r
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestMiddlewareUnauthenticated(t *testing.T) {
	f := newFixture(t, FallbackMap{}, nil)
	rec := serve(newGuardedRouter(f, nil), http.MethodPost, "/purchases/7/receive")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	require.Equal(t, http.StatusUnauthorized, problem.Status)
}

func TestMiddlewareForbiddenIsAudited(t *testing.T) {
	f := newFixture(t, FallbackMap{}, nil)
	compras := f.principal(t, 10, "Compras")
	rec := serve(newGuardedRouter(f, compras), http.MethodPost, "/purchases/7/receive")

	require.Equal(t, http.StatusForbidden, rec.Code)
	denied := f.audit.byOutcome(shared.AuditDenied)
	require.Len(t, denied, 1)
	require.Equal(t, "/purchases/7/receive", denied[0].EntityID)
	require.Equal(t, int64(10), denied[0].ActorID)
	require.Equal(t, shared.PermPurchaseOrderReceive, denied[0].Meta["permission"])
}

func TestMiddlewareAllows(t *testing.T) {
	f := newFixture(t, FallbackMap{}, nil)
	deposito := f.principal(t, 11, "Depósito")
	h := newGuardedRouter(f, deposito)

	rec := serve(h, http.MethodPost, "/purchases/7/receive")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "11", rec.Header().Get("X-Actor"))
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/purchases").Code)
	require.Empty(t, f.audit.byOutcome(shared.AuditDenied))
}

func TestMiddlewareRequireAny(t *testing.T) {
	f := newFixture(t, FallbackMap{}, nil)
	finanzas := f.principal(t, 12, "Finanzas")
	nobody := f.principal(t, 13)

	require.Equal(t, http.StatusOK, serve(newGuardedRouter(f, finanzas), http.MethodGet, "/purchases").Code)
	require.Equal(t, http.StatusForbidden, serve(newGuardedRouter(f, nobody), http.MethodGet, "/purchases").Code)
}

func TestMiddlewareRejectsEmptyPermissions(t *testing.T) {
	f := newFixture(t, FallbackMap{}, nil)
	mw := Middleware{Authorizer: f.authz, Logger: discardLogger()}
	require.Panics(t, func() { mw.Require("") })
	require.Panics(t, func() { mw.RequireAll(" ", "") })
	require.Panics(t, func() { mw.RequireAny() })
	require.NotPanics(t, func() { mw.Require(shared.PermPurchaseOrderView) })
}

func TestNormalizePermissions(t *testing.T) {
	require.Equal(t, []string{"stock.product.view", "stock.movement.view"},
		normalizePermissions([]string{" Stock.Product.View", "", "stock.product.view", "STOCK.MOVEMENT.VIEW"}))
}
