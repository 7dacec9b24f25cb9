package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/apperr"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/money"
	"github.com/venuehub/marketplace/internal/repo"
)

// BookingService prices and tracks venue reservations. Amounts are
// frozen on the booking row at creation.
type BookingService struct {
	repo       repo.RepositoryInterface
	venues     *VenueService
	feePercent decimal.Decimal
	feeFixed   money.Cents
	log        *zap.SugaredLogger
}

// NewBookingService returns BookingService.
func NewBookingService(r repo.RepositoryInterface, venues *VenueService, feePercent decimal.Decimal, feeFixed money.Cents, logger *zap.SugaredLogger) *BookingService {
	return &BookingService{repo: r, venues: venues, feePercent: feePercent, feeFixed: feeFixed, log: logger}
}

// Create reserves a published venue. Subtotal is hourly rate times
// hours; the platform fee goes on top.
func (s *BookingService) Create(ctx context.Context, userID, venueID uint64, startsAt time.Time, hours int) (*model.Booking, error) {
	if hours <= 0 || hours > 24 {
		return nil, apperr.New(apperr.InvalidInput, "hours must be between 1 and 24")
	}
	if startsAt.Before(time.Now()) {
		return nil, apperr.New(apperr.InvalidInput, "booking must start in the future")
	}
	v, err := s.venues.Get(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if !v.Published {
		return nil, apperr.New(apperr.NotFound, "venue not found")
	}

	subtotal := v.HourlyRate.Mul(decimal.NewFromInt(int64(hours)))
	fee := money.Fee(money.FromDecimal(subtotal), s.feePercent, s.feeFixed)
	b := &model.Booking{
		VenueID:  venueID,
		UserID:   userID,
		StartsAt: startsAt,
		Hours:    hours,
		Subtotal: subtotal,
		Fee:      fee.Decimal(),
		Total:    subtotal.Add(fee.Decimal()),
		Status:   model.BookingPending,
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateBooking(ctx, tx, b); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"booking_id": b.ID, "venue_id": venueID, "user_id": userID, "total": b.Total})
		evt := &model.OutboxEvent{Aggregate: "Booking", AggregateID: b.ID, EventType: "BookingCreated", Payload: string(payload)}
		return s.repo.CreateOutboxEvent(ctx, tx, evt)
	})
	if err != nil {
		return nil, apperr.ClassifyDB(err)
	}
	return b, nil
}

// Get returns a booking visible to the caller: the booker or the venue
// owner.
func (s *BookingService) Get(ctx context.Context, callerID, id uint64) (*model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "booking not found")
		}
		return nil, apperr.ClassifyDB(err)
	}
	if b.UserID != callerID {
		v, err := s.venues.Get(ctx, b.VenueID)
		if err != nil || v.OwnerID != callerID {
			return nil, apperr.New(apperr.PermissionDenied, "not your booking")
		}
	}
	return b, nil
}

// CancelPending cancels a booking that hasn't entered payment. Paid
// bookings go through the refund path instead.
func (s *BookingService) CancelPending(ctx context.Context, userID, id uint64) error {
	b, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if b.UserID != userID {
		return apperr.New(apperr.PermissionDenied, "not your booking")
	}
	if b.Status != model.BookingPending {
		return apperr.New(apperr.Conflict, "booking is not cancellable in its current state")
	}
	if err := s.repo.UpdateBookingStatus(ctx, nil, id, model.BookingPending, model.BookingCancelled); err != nil {
		if errors.Is(err, repo.ErrStatusChanged) {
			return apperr.Wrap(apperr.Conflict, "booking changed, retry", err)
		}
		return apperr.ClassifyDB(err)
	}
	return nil
}
