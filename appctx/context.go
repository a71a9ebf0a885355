// Package appctx centralizes typed context keys shared across packages.
package appctx

import "context"

type ContextKey string

const (
	ContextKeyToken         ContextKey = "token"
	ContextKeyCompanyId     ContextKey = "company_id"
	ContextKeyDeviceId      ContextKey = "device_id"
	ContextKeyEstateId      ContextKey = "estate_id"
	ContextKeyUsername      ContextKey = "username"
	ContextKeyUserId        ContextKey = "user_id"
	ContextKeyCorrelationId ContextKey = "correlation_id"

	ContextKeyIsAdmin         ContextKey = "is_admin"
	ContextKeySkipTenantScope ContextKey = "skip_tenant_scope"
)

func Set(ctx context.Context, key ContextKey, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}
