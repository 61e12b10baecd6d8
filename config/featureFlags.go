package config

import (
	"os"
	"strings"
)

// BranchScopeEnforced turns on the branch guard plugin: branch-scoped
// callers only see rows for their own branch_code.
//
// Set via env:
// - BRANCH_SCOPE_ENFORCED=true
func BranchScopeEnforced() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("BRANCH_SCOPE_ENFORCED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// MetricsPublishEnabled controls the change-feed publish after ledger
// writes. On by default; disable for one-off backfills so downstream
// consumers don't get flooded.
//
// Set via env:
// - DISABLE_METRICS_PUBLISH=true
func MetricsPublishEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_METRICS_PUBLISH")))
	return !(v == "1" || v == "true" || v == "yes" || v == "y")
}
