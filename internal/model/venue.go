package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue is a bookable listing. Only published venues show up in search
// and accept bookings.
type Venue struct {
	ID          uint64          `gorm:"primaryKey"`
	OwnerID     uint64          `gorm:"not null;index"`
	Name        string          `gorm:"size:128;not null"`
	City        string          `gorm:"size:64;index"`
	Description string          `gorm:"type:text"`
	Capacity    int             `gorm:"not null;default:0"`
	HourlyRate  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Published   bool            `gorm:"not null;default:false"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Venue) TableName() string { return "venue" }
