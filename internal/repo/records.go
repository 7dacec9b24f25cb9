package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/model"
)

// ErrStatusChanged means a booking status transition lost a race.
var ErrStatusChanged = errors.New("booking status changed concurrently")

// GetBooking fetches one booking row.
func (r *Repository) GetBooking(ctx context.Context, tx *gorm.DB, id uint64) (*model.Booking, error) {
	if tx == nil {
		tx = r.db
	}
	var b model.Booking
	if err := tx.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a booking.
func (r *Repository) CreateBooking(ctx context.Context, tx *gorm.DB, b *model.Booking) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(b).Error
}

// UpdateBookingStatus performs a guarded transition: the row must still
// be in the expected from status.
func (r *Repository) UpdateBookingStatus(ctx context.Context, tx *gorm.DB, id uint64, from, to string) error {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).Model(&model.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// CreatePaymentRecord inserts a record.
func (r *Repository) CreatePaymentRecord(ctx context.Context, tx *gorm.DB, p *model.PaymentRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(p).Error
}

// SavePaymentRecord persists all fields.
func (r *Repository) SavePaymentRecord(ctx context.Context, tx *gorm.DB, p *model.PaymentRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Save(p).Error
}

// GetPaymentBySession looks a record up by its provider session id.
func (r *Repository) GetPaymentBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*model.PaymentRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var p model.PaymentRecord
	if err := tx.WithContext(ctx).Where("session_id = ?", sessionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPendingPaymentForBooking finds an open checkout for a booking, if any.
func (r *Repository) GetPendingPaymentForBooking(ctx context.Context, tx *gorm.DB, bookingID uint64) (*model.PaymentRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var p model.PaymentRecord
	err := tx.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, model.PaymentPending).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
