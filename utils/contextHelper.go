package utils

import (
	"context"

	"github.com/abhinavjnu/opencoop/appctx"
)

// Actor is the authenticated principal attached to every command.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func GetActorFromContext(ctx context.Context) (Actor, bool) {
	id, okID := appctx.GetString(ctx, appctx.ContextKeyActorId)
	role, okRole := appctx.GetString(ctx, appctx.ContextKeyActorRole)
	if !okID || !okRole || id == "" {
		return Actor{}, false
	}
	return Actor{ID: id, Role: role}, true
}

func SetActorInContext(ctx context.Context, actor Actor) context.Context {
	ctx = appctx.Set(ctx, appctx.ContextKeyActorId, actor.ID)
	return appctx.Set(ctx, appctx.ContextKeyActorRole, actor.Role)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func GetIdempotencyTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyIdempotencyToken)
}

func SetIdempotencyTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyIdempotencyToken, token)
}
