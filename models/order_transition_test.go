package models

import (
	"testing"

	"github.com/abhinavjnu/opencoop/utils"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	legal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusCreated, OrderStatusPaymentHeld},
		{OrderStatusCreated, OrderStatusCancelled},
		{OrderStatusPaymentHeld, OrderStatusRestaurantAccepted},
		{OrderStatusPaymentHeld, OrderStatusRestaurantRejected},
		{OrderStatusPaymentHeld, OrderStatusCancelled},
		{OrderStatusRestaurantAccepted, OrderStatusPostedToBoard},
		{OrderStatusRestaurantRejected, OrderStatusCancelled},
		{OrderStatusPostedToBoard, OrderStatusWorkerClaimed},
		{OrderStatusWorkerClaimed, OrderStatusPickedUp},
		{OrderStatusWorkerClaimed, OrderStatusPostedToBoard},
		{OrderStatusPickedUp, OrderStatusDelivered},
		{OrderStatusDelivered, OrderStatusSettled},
		{OrderStatusDelivered, OrderStatusDisputed},
		{OrderStatusSettled, OrderStatusDisputed},
		{OrderStatusDisputed, OrderStatusDisputeResolved},
		{OrderStatusDisputeResolved, OrderStatusSettled},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	illegal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusCreated, OrderStatusDelivered},
		{OrderStatusCreated, OrderStatusSettled},
		{OrderStatusPaymentHeld, OrderStatusPostedToBoard},
		{OrderStatusPostedToBoard, OrderStatusPickedUp},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusSettled, OrderStatusSettled},
		{OrderStatusSettled, OrderStatusCancelled},
		{OrderStatusDisputeResolved, OrderStatusDisputed},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	all := []OrderStatus{
		OrderStatusCreated, OrderStatusPaymentHeld, OrderStatusRestaurantAccepted,
		OrderStatusRestaurantRejected, OrderStatusPostedToBoard, OrderStatusWorkerClaimed,
		OrderStatusPickedUp, OrderStatusDelivered, OrderStatusSettled,
		OrderStatusCancelled, OrderStatusDisputed, OrderStatusDisputeResolved,
	}
	for _, to := range all {
		if CanTransition(OrderStatusCancelled, to) {
			t.Errorf("cancelled must be terminal, but cancelled -> %s allowed", to)
		}
	}
}

func TestGuardTransition_ConflictShape(t *testing.T) {
	err := GuardTransition(OrderStatusCreated, OrderStatusDelivered)
	if err == nil {
		t.Fatal("expected conflict")
	}
	ce, ok := utils.AsConflict(err)
	if !ok {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if ce.Reason != utils.ReasonIllegalTransition {
		t.Fatalf("reason = %s", ce.Reason)
	}
	if GuardTransition(OrderStatusCreated, OrderStatusPaymentHeld) != nil {
		t.Fatal("legal edge rejected")
	}
}
