package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/abhinavjnu/opencoop/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order lifecycle operations. Every state change follows the same shape:
// load -> guard the transition table -> operational update -> ledger append,
// all inside one transaction. Fan-out happens after commit.

func actorOrSystem(ctx context.Context) utils.Actor {
	if actor, ok := utils.GetActorFromContext(ctx); ok {
		return actor
	}
	return utils.Actor{ID: "system", Role: string(models.ActorRoleSystem)}
}

// transitionOrder applies one guarded status change and appends its ledger
// event. Callers own the surrounding transaction.
func transitionOrder(ctx context.Context, tx *gorm.DB, order *models.Order, to models.OrderStatus, eventType string, data map[string]any, extraUpdates map[string]interface{}) (*models.Event, error) {
	if err := models.GuardTransition(order.CurrentStatus, to); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"current_status": to}
	for k, v := range extraUpdates {
		updates[k] = v
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.CurrentStatus = to

	if data == nil {
		data = map[string]any{}
	}
	data["order_id"] = order.ID
	data["status"] = string(to)
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return models.AppendEvent(ctx, tx, models.AppendEventCommand{
		Type:          eventType,
		AggregateId:   order.ID,
		AggregateType: models.AggregateTypeOrder,
		Actor:         actorOrSystem(ctx),
		Data:          payload,
	})
}

func CreateOrder(ctx context.Context, logger *logrus.Logger, input models.NewOrder) (*models.Order, error) {
	db := config.GetDB()
	order := models.Order{
		ID:            uuid.Must(uuid.NewV7()).String(),
		CustomerId:    input.CustomerId,
		RestaurantId:  input.RestaurantId,
		CurrentStatus: models.OrderStatusCreated,
		Subtotal:      input.Subtotal,
		DeliveryFee:   input.DeliveryFee,
		Gratuity:      input.Gratuity,
		TotalAmount:   input.Subtotal.Add(input.DeliveryFee).Add(input.Gratuity),
		RestaurantLat: input.RestaurantLat,
		RestaurantLng: input.RestaurantLng,
		DropoffLat:    input.DropoffLat,
		DropoffLng:    input.DropoffLng,
	}

	var created *models.Event
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"order_id":      order.ID,
			"customer_id":   order.CustomerId,
			"restaurant_id": order.RestaurantId,
			"subtotal":      order.Subtotal,
			"delivery_fee":  order.DeliveryFee,
			"gratuity":      order.Gratuity,
			"total_amount":  order.TotalAmount,
		})
		if err != nil {
			return err
		}
		created, err = models.AppendEvent(ctx, tx, models.AppendEventCommand{
			Type:          models.EventOrderCreated,
			AggregateId:   order.ID,
			AggregateType: models.AggregateTypeOrder,
			Actor:         actorOrSystem(ctx),
			Data:          payload,
		})
		return err
	})
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "CreateOrder", "Transaction", input, err)
		return nil, err
	}
	PublishEventAsync(created)
	return &order, nil
}

// HoldPayment moves created -> payment_held and opens the escrow record
// holding the full order total.
func HoldPayment(ctx context.Context, logger *logrus.Logger, orderId string) (*models.Order, error) {
	db := config.GetDB()
	var order *models.Order
	var appended *models.Event
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(ctx, tx, orderId)
		if err != nil {
			return err
		}
		escrow := models.EscrowRecord{
			OrderId:     order.ID,
			Status:      models.EscrowStatusHeld,
			HeldAmount:  order.TotalAmount,
			Subtotal:    order.Subtotal,
			DeliveryFee: order.DeliveryFee,
			Gratuity:    order.Gratuity,
		}
		if err := tx.Create(&escrow).Error; err != nil {
			return err
		}
		appended, err = transitionOrder(ctx, tx, order, models.OrderStatusPaymentHeld,
			models.EventOrderPaymentHeld,
			map[string]any{"held_amount": order.TotalAmount}, nil)
		return err
	})
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "HoldPayment", "Transaction", orderId, err)
		return nil, err
	}
	PublishEventAsync(appended)
	return order, nil
}

func AcceptOrder(ctx context.Context, logger *logrus.Logger, orderId string) (*models.Order, error) {
	return simpleTransition(ctx, logger, "AcceptOrder", orderId,
		models.OrderStatusRestaurantAccepted, models.EventOrderRestaurantAccepted, nil, nil)
}

func RejectOrder(ctx context.Context, logger *logrus.Logger, orderId string, reason string) (*models.Order, error) {
	return simpleTransition(ctx, logger, "RejectOrder", orderId,
		models.OrderStatusRestaurantRejected, models.EventOrderRestaurantRejected,
		map[string]any{"reason": reason}, nil)
}

// PostToBoard moves restaurant_accepted -> posted_to_board and publishes the
// claimable entry to the job board after commit.
func PostToBoard(ctx context.Context, logger *logrus.Logger, board *JobBoard, orderId string) (*models.Order, error) {
	order, err := simpleTransition(ctx, logger, "PostToBoard", orderId,
		models.OrderStatusPostedToBoard, models.EventOrderPostedToBoard, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := board.Post(EntryForOrder(order)); err != nil {
		config.LogError(logger, "orderWorkflow.go", "PostToBoard", "board.Post", orderId, err)
		return nil, err
	}
	return order, nil
}

// ClaimOrder is gated by the claim registry: the state transition must not
// apply unless the atomic claim succeeded first. If the transition then
// fails (the order was cancelled in between), the marker is released so the
// order is not stranded.
func ClaimOrder(ctx context.Context, logger *logrus.Logger, board *JobBoard, orderId, workerId string) (*models.Order, error) {
	won, err := board.Claim(orderId, workerId)
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "ClaimOrder", "board.Claim", orderId, err)
		return nil, err
	}
	if !won {
		return nil, utils.NewConflict(utils.ReasonJobAlreadyClaimed,
			"order %s is already claimed by another worker", orderId)
	}

	order, err := simpleTransition(ctx, logger, "ClaimOrder", orderId,
		models.OrderStatusWorkerClaimed, models.EventOrderWorkerClaimed,
		map[string]any{"worker_id": workerId},
		map[string]interface{}{"worker_id": workerId})
	if err != nil {
		// Already claimed by this worker and transitioned: idempotent success.
		if ce, ok := utils.AsConflict(err); ok && ce.Reason == utils.ReasonIllegalTransition {
			if existing, gerr := models.GetOrderById(ctx, config.GetDB(), orderId); gerr == nil &&
				existing.CurrentStatus == models.OrderStatusWorkerClaimed &&
				existing.WorkerId != nil && *existing.WorkerId == workerId {
				return existing, nil
			}
		}
		if rerr := board.Release(orderId); rerr != nil {
			config.LogError(logger, "orderWorkflow.go", "ClaimOrder", "board.Release", orderId, rerr)
		}
		return nil, err
	}
	return order, nil
}

// ReleaseClaim hands a claimed order back to the board.
func ReleaseClaim(ctx context.Context, logger *logrus.Logger, board *JobBoard, orderId string) (*models.Order, error) {
	order, err := simpleTransition(ctx, logger, "ReleaseClaim", orderId,
		models.OrderStatusPostedToBoard, models.EventOrderClaimReleased, nil,
		map[string]interface{}{"worker_id": nil})
	if err != nil {
		return nil, err
	}
	if err := board.Release(orderId); err != nil {
		config.LogError(logger, "orderWorkflow.go", "ReleaseClaim", "board.Release", orderId, err)
		return nil, err
	}
	if err := board.Post(EntryForOrder(order)); err != nil {
		config.LogError(logger, "orderWorkflow.go", "ReleaseClaim", "board.Post", orderId, err)
		return nil, err
	}
	return order, nil
}

func MarkPickedUp(ctx context.Context, logger *logrus.Logger, orderId string) (*models.Order, error) {
	return simpleTransition(ctx, logger, "MarkPickedUp", orderId,
		models.OrderStatusPickedUp, models.EventOrderPickedUp, nil, nil)
}

// MarkDelivered moves picked_up -> delivered, then invokes settlement. The
// two commit separately, so a settlement failure leaves the order delivered
// and the command failing. A retry of the whole command must not dead-end on
// the transition guard: when the order is already delivered (or settled) the
// transition is skipped and the idempotent settlement is re-invoked.
func MarkDelivered(ctx context.Context, logger *logrus.Logger, orderId string) (*models.Order, *SettlementSplit, error) {
	order, err := simpleTransition(ctx, logger, "MarkDelivered", orderId,
		models.OrderStatusDelivered, models.EventOrderDelivered, nil, nil)
	if err != nil {
		ce, ok := utils.AsConflict(err)
		if !ok || ce.Reason != utils.ReasonIllegalTransition {
			return nil, nil, err
		}
		existing, gerr := models.GetOrderById(ctx, config.GetDB(), orderId)
		if gerr != nil || !settlementRetryable(existing.CurrentStatus) {
			return nil, nil, err
		}
		order = existing
	}
	split, err := Settle(ctx, logger, orderId)
	if err != nil {
		return nil, nil, err
	}
	order.CurrentStatus = models.OrderStatusSettled
	return order, split, nil
}

// settlementRetryable reports whether a delivery-command retry may skip the
// status transition and go straight to settlement. Only the two statuses the
// command itself produces qualify; anything else is a genuinely illegal call.
func settlementRetryable(status models.OrderStatus) bool {
	return status == models.OrderStatusDelivered || status == models.OrderStatusSettled
}

// CancelOrder is legal from every non-terminal pre-settlement status. Held
// funds are refunded and any board presence withdrawn.
func CancelOrder(ctx context.Context, logger *logrus.Logger, board *JobBoard, orderId, reason string) (*models.Order, error) {
	db := config.GetDB()
	var order *models.Order
	var appended []*models.Event
	wasOnBoard := false

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(ctx, tx, orderId)
		if err != nil {
			return err
		}
		wasOnBoard = order.CurrentStatus == models.OrderStatusPostedToBoard ||
			order.CurrentStatus == models.OrderStatusWorkerClaimed

		ev, err := transitionOrder(ctx, tx, order, models.OrderStatusCancelled,
			models.EventOrderCancelled,
			map[string]any{"reason": reason},
			map[string]interface{}{"cancel_reason": reason})
		if err != nil {
			return err
		}
		appended = append(appended, ev)

		var escrow models.EscrowRecord
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderId).First(&escrow).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil // cancelled before payment was held
			}
			return err
		}
		if escrow.Status != models.EscrowStatusHeld {
			return nil
		}
		if err := tx.Model(&models.EscrowRecord{}).Where("id = ?", escrow.ID).
			Update("status", models.EscrowStatusRefunded).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"order_id":        orderId,
			"refunded_amount": escrow.HeldAmount,
		})
		if err != nil {
			return err
		}
		ev, err = models.AppendEvent(ctx, tx, models.AppendEventCommand{
			Type:          models.EventEscrowRefunded,
			AggregateId:   orderId,
			AggregateType: models.AggregateTypeEscrow,
			Actor:         actorOrSystem(ctx),
			Data:          payload,
		})
		if err != nil {
			return err
		}
		appended = append(appended, ev)
		return nil
	})
	if err != nil {
		config.LogError(logger, "orderWorkflow.go", "CancelOrder", "Transaction", orderId, err)
		return nil, err
	}
	if wasOnBoard {
		if err := board.Remove(orderId); err != nil {
			config.LogError(logger, "orderWorkflow.go", "CancelOrder", "board.Remove", orderId, err)
		}
	}
	for _, ev := range appended {
		PublishEventAsync(ev)
	}
	return order, nil
}

func OpenDispute(ctx context.Context, logger *logrus.Logger, orderId, reason string) (*models.Order, error) {
	return simpleTransition(ctx, logger, "OpenDispute", orderId,
		models.OrderStatusDisputed, models.EventOrderDisputed,
		map[string]any{"reason": reason},
		map[string]interface{}{"dispute_reason": reason})
}

// ResolveDispute records the resolution; settlement (idempotent) then moves
// the order back to settled, paying out once if it never was.
func ResolveDispute(ctx context.Context, logger *logrus.Logger, orderId, resolution string) (*models.Order, *SettlementSplit, error) {
	order, err := simpleTransition(ctx, logger, "ResolveDispute", orderId,
		models.OrderStatusDisputeResolved, models.EventOrderDisputeResolved,
		map[string]any{"resolution": resolution}, nil)
	if err != nil {
		return nil, nil, err
	}
	split, err := Settle(ctx, logger, orderId)
	if err != nil {
		return nil, nil, err
	}
	order.CurrentStatus = models.OrderStatusSettled
	return order, split, nil
}

func lockOrder(ctx context.Context, tx *gorm.DB, orderId string) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderId).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func simpleTransition(ctx context.Context, logger *logrus.Logger, funcName, orderId string, to models.OrderStatus, eventType string, data map[string]any, extraUpdates map[string]interface{}) (*models.Order, error) {
	db := config.GetDB()
	var order *models.Order
	var appended *models.Event
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(ctx, tx, orderId)
		if err != nil {
			return err
		}
		appended, err = transitionOrder(ctx, tx, order, to, eventType, data, extraUpdates)
		return err
	})
	if err != nil {
		if _, ok := utils.AsConflict(err); !ok && !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(logger, "orderWorkflow.go", funcName, "Transaction", orderId, err)
		}
		return nil, err
	}
	PublishEventAsync(appended)
	return order, nil
}
