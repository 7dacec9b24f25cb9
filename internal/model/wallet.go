package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's platform credit. Version backs the optimistic
// lock on balance updates.
type Wallet struct {
	UserID    uint64          `gorm:"primaryKey;column:user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:'0'"`
	Version   uint64          `gorm:"not null;default:0"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
