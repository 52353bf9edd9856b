package models

import (
	"context"
	"time"

	"github.com/abhinavjnu/opencoop/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the customer-visible operational aggregate. Status is owned
// exclusively by the order workflow: every mutation must consult
// CanTransition first, and other components treat the row as read-only.
type Order struct {
	ID             string          `gorm:"primary_key;size:36" json:"id"`
	CustomerId     string          `gorm:"size:64;not null;index" json:"customer_id"`
	RestaurantId   string          `gorm:"size:64;not null;index" json:"restaurant_id"`
	WorkerId       *string         `gorm:"size:64;index" json:"worker_id"`
	CurrentStatus  OrderStatus     `gorm:"size:30;not null;index" json:"current_status"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	DeliveryFee    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delivery_fee"`
	Gratuity       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gratuity"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	RestaurantLat  float64         `json:"restaurant_lat"`
	RestaurantLng  float64         `json:"restaurant_lng"`
	DropoffLat     float64         `json:"dropoff_lat"`
	DropoffLng     float64         `json:"dropoff_lng"`
	CancelReason   string          `gorm:"size:255" json:"cancel_reason"`
	DisputeReason  string          `gorm:"size:255" json:"dispute_reason"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrder struct {
	CustomerId    string          `json:"customer_id" binding:"required"`
	RestaurantId  string          `json:"restaurant_id" binding:"required"`
	Subtotal      decimal.Decimal `json:"subtotal" binding:"required"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee" binding:"required"`
	Gratuity      decimal.Decimal `json:"gratuity"`
	RestaurantLat float64         `json:"restaurant_lat"`
	RestaurantLng float64         `json:"restaurant_lng"`
	DropoffLat    float64         `json:"dropoff_lat"`
	DropoffLng    float64         `json:"dropoff_lng"`
}

// orderTransitions is the single source of truth for the order lifecycle.
// cancelled is terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:            {OrderStatusPaymentHeld, OrderStatusCancelled},
	OrderStatusPaymentHeld:        {OrderStatusRestaurantAccepted, OrderStatusRestaurantRejected, OrderStatusCancelled},
	OrderStatusRestaurantAccepted: {OrderStatusPostedToBoard, OrderStatusCancelled},
	OrderStatusRestaurantRejected: {OrderStatusCancelled},
	OrderStatusPostedToBoard:      {OrderStatusWorkerClaimed, OrderStatusCancelled},
	OrderStatusWorkerClaimed:      {OrderStatusPickedUp, OrderStatusPostedToBoard, OrderStatusCancelled},
	OrderStatusPickedUp:           {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:          {OrderStatusSettled, OrderStatusDisputed},
	OrderStatusSettled:            {OrderStatusDisputed},
	OrderStatusDisputed:           {OrderStatusDisputeResolved},
	OrderStatusDisputeResolved:    {OrderStatusSettled},
	OrderStatusCancelled:          {},
}

// CanTransition reports whether moving from -> to is a legal lifecycle edge.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GuardTransition returns a client-facing conflict for an illegal edge.
func GuardTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return utils.NewConflict(utils.ReasonIllegalTransition,
			"cannot move order from %s to %s", from, to)
	}
	return nil
}

func GetOrderById(ctx context.Context, db *gorm.DB, id string) (*Order, error) {
	var order Order
	err := db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}
