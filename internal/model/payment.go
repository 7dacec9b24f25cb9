package model

import "time"

// Payment record statuses and purposes.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentExpired  = "expired"
	PaymentRefunded = "refunded"

	PurposeBooking = "booking"
	PurposeTopUp   = "topup"
)

// PaymentRecord tracks one checkout against the provider, including how
// the amount was split between platform credit and the card. Provider
// amounts are integer cents.
type PaymentRecord struct {
	ID             uint64    `gorm:"primaryKey"`
	BookingID      *uint64   `gorm:"index"`
	UserID         uint64    `gorm:"not null;index"`
	Purpose        string    `gorm:"size:16;not null"`
	CreditCents    int64     `gorm:"not null;default:0"`
	CardCents      int64     `gorm:"not null;default:0"`
	Currency       string    `gorm:"size:8;not null;default:'usd'"`
	SessionID      string    `gorm:"size:128;uniqueIndex"`
	IntentID       string    `gorm:"size:128"`
	Status         string    `gorm:"size:16;not null;default:'pending'"`
	FailureCode    string    `gorm:"size:64"`
	IdempotencyKey *string   `gorm:"size:64"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (PaymentRecord) TableName() string { return "payment_record" }
