package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyToken         = ContextKey("Token")
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyHTTPRequest is true when the operation runs inside an HTTP
	// request. Bulk writes stamp the budget's updated_at only in that case;
	// programmatic callers (imports, maintenance commands) do not.
	ContextKeyHTTPRequest = ContextKey("HTTPRequest")

	// ContextKeySuppressRecalc disables the post-save recomputation hooks.
	// The bulk coordinator sets it so a bulk write recomputes each affected
	// ancestor once at the end instead of once per row.
	ContextKeySuppressRecalc = ContextKey("SuppressRecalc")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
