package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/abhinavjnu/opencoop/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementSplit is the payout breakdown derived from governed rates.
// workerDeliveryPay is the remainder after the two floored cuts, so the
// three parts always sum exactly to the delivery fee.
type SettlementSplit struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	Gratuity          decimal.Decimal `json:"gratuity"`
	PoolContribution  decimal.Decimal `json:"pool_contribution"`
	InfraFee          decimal.Decimal `json:"infra_fee"`
	WorkerDeliveryPay decimal.Decimal `json:"worker_delivery_pay"`
	WorkerPayout      decimal.Decimal `json:"worker_payout"`
	RestaurantPayout  decimal.Decimal `json:"restaurant_payout"`
}

// ComputeSettlementSplit derives all payout values from the order's monetary
// fields and the governed-rate snapshot.
func ComputeSettlementSplit(subtotal, deliveryFee, gratuity decimal.Decimal, params config.GovernedParams) SettlementSplit {
	poolContribution := deliveryFee.Mul(params.PoolRate).Floor()
	infraFee := deliveryFee.Mul(params.InfraFeeRate).Floor()
	workerDeliveryPay := deliveryFee.Sub(poolContribution).Sub(infraFee)
	return SettlementSplit{
		Subtotal:          subtotal,
		DeliveryFee:       deliveryFee,
		Gratuity:          gratuity,
		PoolContribution:  poolContribution,
		InfraFee:          infraFee,
		WorkerDeliveryPay: workerDeliveryPay,
		WorkerPayout:      workerDeliveryPay.Add(gratuity),
		RestaurantPayout:  subtotal,
	}
}

func splitFromEscrow(e *models.EscrowRecord) SettlementSplit {
	return SettlementSplit{
		Subtotal:          e.Subtotal,
		DeliveryFee:       e.DeliveryFee,
		Gratuity:          e.Gratuity,
		PoolContribution:  e.PoolContribution,
		InfraFee:          e.InfraFee,
		WorkerDeliveryPay: e.WorkerDeliveryPay,
		WorkerPayout:      e.WorkerPayout,
		RestaurantPayout:  e.RestaurantPayout,
	}
}

// Settle moves money for one order exactly once. Escrow, order status, pool
// balance, pool ledger line and the worker's daily-earnings row commit in a
// single transaction; the escrow row lock (FOR UPDATE) is the correctness
// point, the redislock is only contention relief. An already-settled escrow
// returns the stored split with zero side effects.
//
// Ledger emission happens after the commit and is not transactional with it.
// A crash in between leaves a settled escrow with events_emitted_at NULL,
// which ReconcileSettlementEvents repairs.
func Settle(ctx context.Context, logger *logrus.Logger, orderId string) (*SettlementSplit, error) {
	db := config.GetDB()

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "Settle:"+orderId, 30*time.Second, nil)
		if err == nil {
			defer lock.Release(ctx)
		} else if !errors.Is(err, redislock.ErrNotObtained) {
			config.LogDegraded(logger, "settlement.go", "Settle", "redislock.Obtain", err)
		}
	}

	var split SettlementSplit
	var alreadySettled bool
	var workerId, restaurantId string

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var escrow models.EscrowRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderId).First(&escrow).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if escrow.Status == models.EscrowStatusSettled {
			split = splitFromEscrow(&escrow)
			alreadySettled = true
			// A resolved dispute over an already-paid order returns to
			// settled without moving money again. The settlement facts are
			// already on the chain, so only the status row changes.
			order, err := lockOrder(ctx, tx, orderId)
			if err != nil {
				return err
			}
			if order.CurrentStatus == models.OrderStatusDisputeResolved {
				return tx.Model(&models.Order{}).Where("id = ?", orderId).
					Update("current_status", models.OrderStatusSettled).Error
			}
			return nil
		}
		if escrow.Status != models.EscrowStatusHeld {
			return utils.NewConflict(utils.ReasonEscrowNotHeld,
				"escrow for order %s is %s, not held", orderId, escrow.Status)
		}

		order, err := lockOrder(ctx, tx, orderId)
		if err != nil {
			return err
		}
		if err := models.GuardTransition(order.CurrentStatus, models.OrderStatusSettled); err != nil {
			return err
		}
		if order.WorkerId == nil || *order.WorkerId == "" {
			return errors.New("cannot settle an order with no claiming worker")
		}
		workerId = *order.WorkerId
		restaurantId = order.RestaurantId

		split = ComputeSettlementSplit(escrow.Subtotal, escrow.DeliveryFee, escrow.Gratuity, config.GetGovernedParams())
		now := time.Now().UTC()

		if err := tx.Model(&models.EscrowRecord{}).Where("id = ?", escrow.ID).Updates(map[string]interface{}{
			"status":              models.EscrowStatusSettled,
			"pool_contribution":   split.PoolContribution,
			"infra_fee":           split.InfraFee,
			"worker_delivery_pay": split.WorkerDeliveryPay,
			"worker_payout":       split.WorkerPayout,
			"restaurant_payout":   split.RestaurantPayout,
			"settled_at":          &now,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Order{}).Where("id = ?", orderId).
			Update("current_status", models.OrderStatusSettled).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", split.PoolContribution)}),
		}).Create(&models.PoolState{ID: 1, Balance: split.PoolContribution}).Error; err != nil {
			return err
		}

		entry := models.PoolLedgerEntry{
			OrderId:     &orderId,
			EntryType:   models.PoolEntryContribution,
			Amount:      split.PoolContribution,
			Description: "delivery fee pool contribution",
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		earning := models.WorkerDailyEarning{
			WorkerId:    workerId,
			EarningDate: now.Truncate(24 * time.Hour),
			TotalEarned: split.WorkerPayout,
			Deliveries:  1,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "worker_id"}, {Name: "earning_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_earned": gorm.Expr("total_earned + ?", split.WorkerPayout),
				"deliveries":   gorm.Expr("deliveries + 1"),
			}),
		}).Create(&earning).Error
	})
	if err != nil {
		if _, ok := utils.AsConflict(err); !ok && !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(logger, "settlement.go", "Settle", "Transaction", orderId, err)
		}
		return nil, err
	}
	if alreadySettled {
		return &split, nil
	}

	if err := EmitSettlementEvents(ctx, logger, orderId, workerId, restaurantId, split); err != nil {
		// Money moved; the audit trail is behind. Loud, and left for the
		// reconciler: events_emitted_at stays NULL.
		config.LogError(logger, "settlement.go", "Settle", "EmitSettlementEvents", orderId, err)
		return &split, nil
	}
	return &split, nil
}

// EmitSettlementEvents appends the four settlement facts to the order's
// chain, skipping any already present so re-emission is idempotent. On full
// success the escrow row is stamped events_emitted_at.
func EmitSettlementEvents(ctx context.Context, logger *logrus.Logger, orderId, workerId, restaurantId string, split SettlementSplit) error {
	db := config.GetDB()

	existing, err := models.ListEventsByAggregate(ctx, db, orderId, models.AggregateTypeOrder)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, ev := range existing {
		have[ev.Type] = true
	}

	emit := func(eventType string, data map[string]any) error {
		if have[eventType] {
			return nil
		}
		data["order_id"] = orderId
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		ev, err := models.AppendEvent(ctx, db, models.AppendEventCommand{
			Type:          eventType,
			AggregateId:   orderId,
			AggregateType: models.AggregateTypeOrder,
			Actor:         utils.Actor{ID: "system", Role: string(models.ActorRoleSystem)},
			Data:          payload,
		})
		if err != nil {
			return err
		}
		PublishEventAsync(ev)
		return nil
	}

	if err := emit(models.EventOrderSettled, map[string]any{
		"worker_payout":     split.WorkerPayout,
		"restaurant_payout": split.RestaurantPayout,
		"pool_contribution": split.PoolContribution,
		"infra_fee":         split.InfraFee,
	}); err != nil {
		return err
	}
	if err := emit(models.EventRestaurantPaid, map[string]any{
		"restaurant_id": restaurantId,
		"amount":        split.RestaurantPayout,
	}); err != nil {
		return err
	}
	if err := emit(models.EventWorkerPaid, map[string]any{
		"worker_id": workerId,
		"amount":    split.WorkerPayout,
	}); err != nil {
		return err
	}
	if err := emit(models.EventPoolCredited, map[string]any{
		"amount": split.PoolContribution,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&models.EscrowRecord{}).
		Where("order_id = ?", orderId).
		Update("events_emitted_at", &now).Error
}
