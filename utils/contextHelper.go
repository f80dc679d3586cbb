package utils

import (
	"context"

	"github.com/mmdatafocus/budgets_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId

	ContextKeyHTTPRequest    = appctx.ContextKeyHTTPRequest
	ContextKeySuppressRecalc = appctx.ContextKeySuppressRecalc
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// SetHTTPRequestInContext marks the context as originating from an HTTP
// request. Bulk writes use it to decide whether to stamp budget updated_at.
func SetHTTPRequestInContext(ctx context.Context) context.Context {
	return appctx.Set(ctx, ContextKeyHTTPRequest, true)
}

func IsHTTPRequestContext(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, ContextKeyHTTPRequest)
	return ok && v
}

// SuppressRecalcInContext disables post-save recomputation hooks for every
// write performed with the returned context.
func SuppressRecalcInContext(ctx context.Context) context.Context {
	return appctx.Set(ctx, ContextKeySuppressRecalc, true)
}

func IsRecalcSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, ContextKeySuppressRecalc)
	return ok && v
}
