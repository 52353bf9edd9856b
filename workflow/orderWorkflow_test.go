package workflow

import (
	"context"
	"testing"

	"github.com/abhinavjnu/opencoop/models"
	"github.com/abhinavjnu/opencoop/utils"
)

// NOTE: These tests are intentionally DB-free. The transactional paths need
// a real MySQL; the retry-eligibility decision they hinge on is pure.

// A delivery command whose settlement leg failed leaves the order delivered.
// The client retry must be allowed through to settlement instead of dying on
// the transition guard; a retry against any other status must not be.
func TestSettlementRetryable(t *testing.T) {
	eligible := map[models.OrderStatus]bool{
		models.OrderStatusDelivered: true,
		models.OrderStatusSettled:   true,
	}
	all := []models.OrderStatus{
		models.OrderStatusCreated, models.OrderStatusPaymentHeld,
		models.OrderStatusRestaurantAccepted, models.OrderStatusRestaurantRejected,
		models.OrderStatusPostedToBoard, models.OrderStatusWorkerClaimed,
		models.OrderStatusPickedUp, models.OrderStatusDelivered,
		models.OrderStatusSettled, models.OrderStatusCancelled,
		models.OrderStatusDisputed, models.OrderStatusDisputeResolved,
	}
	for _, status := range all {
		if got := settlementRetryable(status); got != eligible[status] {
			t.Errorf("settlementRetryable(%s) = %v, want %v", status, got, eligible[status])
		}
	}
}

func TestActorOrSystem_FallsBackToSystem(t *testing.T) {
	actor := actorOrSystem(context.Background())
	if actor.ID != "system" || actor.Role != string(models.ActorRoleSystem) {
		t.Fatalf("fallback actor = %+v", actor)
	}

	ctx := utils.SetActorInContext(context.Background(), utils.Actor{ID: "w1", Role: "worker"})
	actor = actorOrSystem(ctx)
	if actor.ID != "w1" || actor.Role != "worker" {
		t.Fatalf("context actor = %+v", actor)
	}
}
