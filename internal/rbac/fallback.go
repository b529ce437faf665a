package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// LegacyChecker answers permission questions against the legacy permission tables.
type LegacyChecker interface {
	Has(ctx context.Context, principalID int64, legacyID string) (bool, error)
	Exists(ctx context.Context, legacyID string) (bool, error)
}

// FallbackMap maps permission codes to legacy identifiers. It is immutable once built.
type FallbackMap struct {
	entries map[string]string
}

// NewFallbackMap copies entries into a FallbackMap.
func NewFallbackMap(entries map[string]string) (FallbackMap, error) {
	out := FallbackMap{entries: make(map[string]string, len(entries))}
	for code, legacyID := range entries {
		code = NormalizeCode(code)
		legacyID = strings.TrimSpace(legacyID)
		if code == "" || legacyID == "" {
			return FallbackMap{}, fmt.Errorf("rbac: fallback entry %q:%q incomplete", code, legacyID)
		}
		if _, dup := out.entries[code]; dup {
			return FallbackMap{}, fmt.Errorf("rbac: fallback code %q mapped twice", code)
		}
		out.entries[code] = legacyID
	}
	return out, nil
}

// ParseFallbackMap parses "code:legacy_id,code2:legacy_id2".
func ParseFallbackMap(raw string) (FallbackMap, error) {
	entries := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		code, legacyID, ok := strings.Cut(item, ":")
		if !ok {
			return FallbackMap{}, fmt.Errorf("rbac: fallback entry %q missing ':'", item)
		}
		code = NormalizeCode(code)
		if _, dup := entries[code]; dup {
			return FallbackMap{}, fmt.Errorf("rbac: fallback code %q mapped twice", code)
		}
		entries[code] = legacyID
	}
	return NewFallbackMap(entries)
}

// Merge returns a map where entries of override win.
func (m FallbackMap) Merge(override FallbackMap) FallbackMap {
	out := FallbackMap{entries: make(map[string]string, len(m.entries)+len(override.entries))}
	for code, legacyID := range m.entries {
		out.entries[code] = legacyID
	}
	for code, legacyID := range override.entries {
		out.entries[code] = legacyID
	}
	return out
}

// Lookup returns the legacy identifier mapped to code.
func (m FallbackMap) Lookup(code string) (string, bool) {
	legacyID, ok := m.entries[NormalizeCode(code)]
	return legacyID, ok
}

// Len returns the number of entries.
func (m FallbackMap) Len() int { return len(m.entries) }

// Codes returns the mapped codes sorted.
func (m FallbackMap) Codes() []string {
	codes := make([]string, 0, len(m.entries))
	for code := range m.entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks the map at startup: every code is registered and every legacy
// identifier exists. Mapped codes that are not read-only are returned as warnings.
func (m FallbackMap) Validate(ctx context.Context, registry *Registry, legacy LegacyChecker, logger *slog.Logger) ([]string, error) {
	if m.Len() == 0 {
		return nil, nil
	}
	if legacy == nil {
		return nil, fmt.Errorf("rbac: fallback map configured without a legacy checker")
	}
	var warnings []string
	for _, code := range m.Codes() {
		perm, ok := registry.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("%w: fallback code %s", ErrUnknownPermission, code)
		}
		legacyID := m.entries[code]
		exists, err := legacy.Exists(ctx, legacyID)
		if err != nil {
			return nil, fmt.Errorf("rbac: check legacy %s: %w", legacyID, err)
		}
		if !exists {
			return nil, fmt.Errorf("rbac: fallback %s maps to unknown legacy permission %s", code, legacyID)
		}
		if !perm.ReadOnly {
			warnings = append(warnings, fmt.Sprintf("fallback code %s is not read-only", code))
			if logger != nil {
				logger.Warn("rbac fallback policy", slog.String("code", code), slog.String("legacy", legacyID))
			}
		}
	}
	return warnings, nil
}
