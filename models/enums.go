package models

type OrderStatus string

const (
	OrderStatusCreated            OrderStatus = "created"
	OrderStatusPaymentHeld        OrderStatus = "payment_held"
	OrderStatusRestaurantAccepted OrderStatus = "restaurant_accepted"
	OrderStatusRestaurantRejected OrderStatus = "restaurant_rejected"
	OrderStatusPostedToBoard      OrderStatus = "posted_to_board"
	OrderStatusWorkerClaimed      OrderStatus = "worker_claimed"
	OrderStatusPickedUp           OrderStatus = "picked_up"
	OrderStatusDelivered          OrderStatus = "delivered"
	OrderStatusSettled            OrderStatus = "settled"
	OrderStatusCancelled          OrderStatus = "cancelled"
	OrderStatusDisputed           OrderStatus = "disputed"
	OrderStatusDisputeResolved    OrderStatus = "dispute_resolved"
)

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusSettled  EscrowStatus = "settled"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

type ActorRole string

const (
	ActorRoleCustomer   ActorRole = "customer"
	ActorRoleRestaurant ActorRole = "restaurant"
	ActorRoleWorker     ActorRole = "worker"
	ActorRoleGovernance ActorRole = "governance"
	ActorRoleSystem     ActorRole = "system"
)

// Aggregate types used as the ledger's chain key.
const (
	AggregateTypeOrder  = "order"
	AggregateTypeEscrow = "escrow"
)

// Ledger event types: namespaced past-tense verbs.
const (
	EventOrderCreated            = "order.created"
	EventOrderPaymentHeld        = "order.payment_held"
	EventOrderRestaurantAccepted = "order.restaurant_accepted"
	EventOrderRestaurantRejected = "order.restaurant_rejected"
	EventOrderPostedToBoard      = "order.posted_to_board"
	EventOrderWorkerClaimed      = "order.worker_claimed"
	EventOrderClaimReleased      = "order.claim_released"
	EventOrderPickedUp           = "order.picked_up"
	EventOrderDelivered          = "order.delivered"
	EventOrderSettled            = "order.settled"
	EventOrderCancelled          = "order.cancelled"
	EventOrderDisputed           = "order.disputed"
	EventOrderDisputeResolved    = "order.dispute_resolved"
	EventEscrowRefunded          = "escrow.refunded"
	EventRestaurantPaid          = "settlement.restaurant_paid"
	EventWorkerPaid              = "settlement.worker_paid"
	EventPoolCredited            = "settlement.pool_credited"
)

type PoolEntryType string

const (
	PoolEntryContribution PoolEntryType = "contribution"
	PoolEntryTopUp        PoolEntryType = "top_up"
)
