package rbac

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// Policy is the declarative source of truth for permissions, roles and fallback.
type Policy struct {
	Permissions []PolicyPermission `yaml:"permissions"`
	Roles       []PolicyRole       `yaml:"roles"`
	Fallback    map[string]string  `yaml:"fallback"`

	registry *Registry
}

// PolicyPermission declares one permission code.
type PolicyPermission struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

// PolicyRole declares a role and its permission codes. All grants every registered code.
type PolicyRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	All         bool     `yaml:"all"`
	Permissions []string `yaml:"permissions"`
}

// DefaultPolicy parses the embedded policy.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file, or the embedded default when path is empty.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy. Unknown fields are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Policy
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("rbac: decode policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	perms := make([]Permission, 0, len(p.Permissions))
	for _, perm := range p.Permissions {
		perms = append(perms, Permission{Code: perm.Code, Description: perm.Description})
	}
	registry, err := NewRegistry(perms...)
	if err != nil {
		return err
	}
	seen := make(map[string]string, len(p.Roles))
	for i, role := range p.Roles {
		name := NormalizeRoleName(role.Name)
		if name == "" {
			return fmt.Errorf("rbac: policy role #%d has no name", i+1)
		}
		key := RoleKey(name)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: %q collides with %q", ErrDuplicateRole, name, prev)
		}
		seen[key] = name
		if err := registry.Require(role.Permissions...); err != nil {
			return fmt.Errorf("rbac: policy role %s: %w", name, err)
		}
		p.Roles[i].Name = name
	}
	if _, err := NewFallbackMap(p.Fallback); err != nil {
		return err
	}
	for code := range p.Fallback {
		if !registry.Has(code) {
			return fmt.Errorf("%w: fallback code %s", ErrUnknownPermission, code)
		}
	}
	p.registry = registry
	return nil
}

// Registry returns the permission catalog declared by the policy.
func (p *Policy) Registry() *Registry {
	return p.registry
}

// RolePermissions resolves the codes granted to a declared role.
func (p *Policy) RolePermissions(role PolicyRole) PermissionSet {
	if role.All {
		return p.registry.Set()
	}
	return NewPermissionSet(role.Permissions...)
}

// FallbackMap returns the fallback entries declared by the policy.
func (p *Policy) FallbackMap() FallbackMap {
	m, _ := NewFallbackMap(p.Fallback)
	return m
}
