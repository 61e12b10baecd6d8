// Package appctx defines the shared context keys used across the request
// surfaces so that models and middlewares don't import each other.
package appctx

import "context"

type ContextKey string

const (
	ContextKeyUserId        ContextKey = "userId"
	ContextKeyUsername      ContextKey = "username"
	ContextKeyUserEmail     ContextKey = "userEmail"
	ContextKeyBranchName    ContextKey = "branchName"
	ContextKeyBranchCode    ContextKey = "branchCode"
	ContextKeyCorrelationId ContextKey = "correlationId"

	// Branch-scope enforcement controls.
	ContextKeySkipBranchScope ContextKey = "skipBranchScope"
	ContextKeyIsAdmin         ContextKey = "isAdmin"
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}
