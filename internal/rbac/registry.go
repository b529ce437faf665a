package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizeCode canonicalises a permission code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidateCode checks the dotted lower-case shape of a code, e.g. purchases.order.receive.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("rbac: empty permission code")
	}
	segments := strings.Split(code, ".")
	if len(segments) < 2 {
		return fmt.Errorf("rbac: permission code %q needs at least two segments", code)
	}
	for _, segment := range segments {
		if segment == "" {
			return fmt.Errorf("rbac: permission code %q has an empty segment", code)
		}
		for _, r := range segment {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
				return fmt.Errorf("rbac: permission code %q contains %q", code, r)
			}
		}
	}
	return nil
}

// Registry is the immutable catalog of known permission codes.
type Registry struct {
	perms map[string]Permission
	codes []string
}

// NewRegistry validates and indexes permissions. Codes ending in ".view" are read-only.
func NewRegistry(perms ...Permission) (*Registry, error) {
	reg := &Registry{perms: make(map[string]Permission, len(perms))}
	for _, perm := range perms {
		perm.Code = NormalizeCode(perm.Code)
		if err := ValidateCode(perm.Code); err != nil {
			return nil, err
		}
		if _, exists := reg.perms[perm.Code]; exists {
			return nil, fmt.Errorf("rbac: duplicate permission %q", perm.Code)
		}
		if strings.HasSuffix(perm.Code, ".view") {
			perm.ReadOnly = true
		}
		reg.perms[perm.Code] = perm
		reg.codes = append(reg.codes, perm.Code)
	}
	sort.Strings(reg.codes)
	return reg, nil
}

// Has reports whether code is registered.
func (r *Registry) Has(code string) bool {
	if r == nil {
		return false
	}
	_, ok := r.perms[NormalizeCode(code)]
	return ok
}

// Lookup returns the permission for code.
func (r *Registry) Lookup(code string) (Permission, bool) {
	if r == nil {
		return Permission{}, false
	}
	perm, ok := r.perms[NormalizeCode(code)]
	return perm, ok
}

// Codes returns all registered codes sorted.
func (r *Registry) Codes() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.codes...)
}

// All returns all permissions sorted by code.
func (r *Registry) All() []Permission {
	if r == nil {
		return nil
	}
	out := make([]Permission, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, r.perms[code])
	}
	return out
}

// Set returns every registered code as a PermissionSet.
func (r *Registry) Set() PermissionSet {
	return NewPermissionSet(r.Codes()...)
}

// Filter drops codes the registry does not know.
func (r *Registry) Filter(set PermissionSet) PermissionSet {
	out := make(PermissionSet, len(set))
	for code := range set {
		if r.Has(code) {
			out[code] = struct{}{}
		}
	}
	return out
}

// Require returns ErrUnknownPermission wrapped with every unknown code.
func (r *Registry) Require(codes ...string) error {
	var unknown []string
	for _, code := range codes {
		if !r.Has(code) {
			unknown = append(unknown, NormalizeCode(code))
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(unknown, ", "))
	}
	return nil
}
