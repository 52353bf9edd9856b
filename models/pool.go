package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolState is the singleton balance row for the shared worker-guarantee
// pool. Mutated only inside the settlement transaction.
type PoolState struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PoolLedgerEntry is one immutable financial line for the pool. Append-only,
// written only under the settlement engine's transactional control.
type PoolLedgerEntry struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderId     *string         `gorm:"size:36;index" json:"order_id"`
	EntryType   PoolEntryType   `gorm:"size:20;not null" json:"entry_type"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Description string          `gorm:"size:255" json:"description"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
