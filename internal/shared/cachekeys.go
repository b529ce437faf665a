package shared

import "fmt"

// PermissionCacheKey builds redis keys for effective permission sets.
func PermissionCacheKey(generation, epoch, principalID int64) string {
	return fmt.Sprintf("rbac:perms:%d:%d:%d", generation, epoch, principalID)
}

// PermissionEpochKey stores the per-principal invalidation counter.
func PermissionEpochKey(principalID int64) string {
	return fmt.Sprintf("rbac:perms:epoch:%d", principalID)
}

// PermissionGenerationKey stores the global invalidation counter.
const PermissionGenerationKey = "rbac:perms:generation"
