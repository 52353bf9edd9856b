package utils

import (
	"context"
	"testing"
)

func TestActorContext_RoundTrip(t *testing.T) {
	if _, ok := GetActorFromContext(context.Background()); ok {
		t.Fatal("empty context produced an actor")
	}
	ctx := SetActorInContext(context.Background(), Actor{ID: "c1", Role: "customer"})
	actor, ok := GetActorFromContext(ctx)
	if !ok || actor.ID != "c1" || actor.Role != "customer" {
		t.Fatalf("actor = %+v ok=%v", actor, ok)
	}
}

func TestCorrelationAndTokenContext_RoundTrip(t *testing.T) {
	if _, ok := GetCorrelationIdFromContext(context.Background()); ok {
		t.Fatal("empty context produced a correlation id")
	}
	if _, ok := GetIdempotencyTokenFromContext(context.Background()); ok {
		t.Fatal("empty context produced an idempotency token")
	}

	ctx := SetCorrelationIdInContext(context.Background(), "corr-1")
	ctx = SetIdempotencyTokenInContext(ctx, "tok-1")

	if id, ok := GetCorrelationIdFromContext(ctx); !ok || id != "corr-1" {
		t.Fatalf("correlation id = %q ok=%v", id, ok)
	}
	if tok, ok := GetIdempotencyTokenFromContext(ctx); !ok || tok != "tok-1" {
		t.Fatalf("idempotency token = %q ok=%v", tok, ok)
	}
}
