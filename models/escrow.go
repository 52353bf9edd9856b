package models

import (
	"context"
	"time"

	"github.com/abhinavjnu/opencoop/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EscrowRecord tracks held funds and the computed payout split for one
// order. Owned exclusively by the settlement engine. EventsEmittedAt is set
// after the post-commit ledger emission succeeds; a settled row where it is
// still NULL is the gap the reconciler repairs.
type EscrowRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrderId           string          `gorm:"size:36;not null;uniqueIndex" json:"order_id"`
	Status            EscrowStatus    `gorm:"size:20;not null;index" json:"status"`
	HeldAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"held_amount"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	DeliveryFee       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delivery_fee"`
	Gratuity          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gratuity"`
	PoolContribution  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pool_contribution"`
	InfraFee          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"infra_fee"`
	WorkerDeliveryPay decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"worker_delivery_pay"`
	WorkerPayout      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"worker_payout"`
	RestaurantPayout  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"restaurant_payout"`
	SettledAt         *time.Time      `json:"settled_at"`
	EventsEmittedAt   *time.Time      `json:"events_emitted_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetEscrowByOrderId(ctx context.Context, db *gorm.DB, orderId string) (*EscrowRecord, error) {
	var escrow EscrowRecord
	err := db.WithContext(ctx).Where("order_id = ?", orderId).First(&escrow).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &escrow, nil
}
