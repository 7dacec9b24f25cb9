package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking statuses.
const (
	BookingPending         = "pending"
	BookingAwaitingPayment = "awaiting_payment"
	BookingConfirmed       = "confirmed"
	BookingCancelled       = "cancelled"
)

// Booking reserves a venue for a number of hours. Amounts are frozen at
// creation time so later venue price edits don't move the bill.
type Booking struct {
	ID        uint64          `gorm:"primaryKey"`
	VenueID   uint64          `gorm:"not null;index"`
	UserID    uint64          `gorm:"not null;index"`
	StartsAt  time.Time       `gorm:"not null"`
	Hours     int             `gorm:"not null"`
	Subtotal  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Fee       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Total     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status    string          `gorm:"size:32;not null;default:'pending'"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Booking) TableName() string { return "booking" }
