// Package guard is blank-imported by tests that touch internal/app so that no
// test can reach a real PostgreSQL or Redis by accident.
package guard

import "os"

func init() {
	setDefault("ODYSSEY_TEST_MODE", "1")
	setDefault("RBAC_CACHE_BACKEND", "memory")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}
