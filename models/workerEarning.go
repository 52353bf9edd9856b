package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkerDailyEarning is a small, query-friendly aggregate used by worker
// dashboards and the minimum-earnings guarantee check.
//
// Grain: (worker_id, earning_date). Derived data: rebuildable from settled
// escrow rows.
type WorkerDailyEarning struct {
	WorkerId    string          `gorm:"primaryKey;size:64" json:"worker_id"`
	EarningDate time.Time       `gorm:"primaryKey;type:date" json:"earning_date"`
	TotalEarned decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_earned"`
	Deliveries  int             `gorm:"not null;default:0" json:"deliveries"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
