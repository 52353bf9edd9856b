package workflow

import (
	"context"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/sirupsen/logrus"
)

// ReconcileSettlementEvents repairs the settle-then-emit gap: a crash
// between the settlement commit and the ledger appends leaves money settled
// with no corresponding audit facts. This job finds settled escrow rows
// whose emission never completed and re-runs the (idempotent) emission.
//
// Returns the number of escrow rows repaired.
func ReconcileSettlementEvents(ctx context.Context, logger *logrus.Logger, olderThan time.Duration) (int, error) {
	db := config.GetDB()
	cutoff := time.Now().UTC().Add(-olderThan)

	var stranded []models.EscrowRecord
	err := db.WithContext(ctx).
		Where("status = ? AND events_emitted_at IS NULL AND settled_at IS NOT NULL AND settled_at < ?",
			models.EscrowStatusSettled, cutoff).
		Order("settled_at ASC").
		Limit(100).
		Find(&stranded).Error
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range stranded {
		escrow := &stranded[i]
		order, err := models.GetOrderById(ctx, db, escrow.OrderId)
		if err != nil {
			config.LogError(logger, "reconciliation.go", "ReconcileSettlementEvents", "GetOrderById", escrow.OrderId, err)
			continue
		}
		workerId := ""
		if order.WorkerId != nil {
			workerId = *order.WorkerId
		}
		split := splitFromEscrow(escrow)
		if err := EmitSettlementEvents(ctx, logger, escrow.OrderId, workerId, order.RestaurantId, split); err != nil {
			config.LogError(logger, "reconciliation.go", "ReconcileSettlementEvents", "EmitSettlementEvents", escrow.OrderId, err)
			continue
		}
		logger.WithFields(logrus.Fields{
			"module":   "reconciliation.go",
			"order_id": escrow.OrderId,
		}).Info("re-emitted settlement events")
		repaired++
	}
	return repaired, nil
}
