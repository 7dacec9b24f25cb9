package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet entry types.
const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
	EntryRefund = "REFUND"
	EntryTopUp  = "TOPUP"
)

// WalletEntry is one ledger row against a wallet. Entries with the same
// idempotency key and type are deduplicated.
type WalletEntry struct {
	ID             uint64          `gorm:"primaryKey"`
	UserID         uint64          `gorm:"not null;index"`
	Type           string          `gorm:"size:32;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	BalanceBefore  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Reference      *string         `gorm:"size:128"`
	IdempotencyKey *string         `gorm:"size:64"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
}

func (WalletEntry) TableName() string { return "wallet_entry" }
