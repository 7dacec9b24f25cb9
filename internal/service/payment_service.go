package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/apperr"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/money"
	"github.com/venuehub/marketplace/internal/repo"
	"github.com/venuehub/marketplace/internal/stripe"
)

// PaymentService orchestrates checkouts against the provider. Policy:
// platform credit is consumed first, the card only covers the rest.
type PaymentService struct {
	repo       repo.RepositoryInterface
	wallet     *WalletService
	client     *stripe.Client
	successURL string
	cancelURL  string
	log        *zap.SugaredLogger
}

// NewPaymentService returns PaymentService.
func NewPaymentService(r repo.RepositoryInterface, wallet *WalletService, client *stripe.Client, successURL, cancelURL string, logger *zap.SugaredLogger) *PaymentService {
	return &PaymentService{repo: r, wallet: wallet, client: client, successURL: successURL, cancelURL: cancelURL, log: logger}
}

// Checkout result statuses.
const (
	CheckoutPaidWithCredit = "paid_with_credit"
	CheckoutRedirect       = "redirect"
)

// CheckoutResult tells the caller whether credit covered everything or a
// hosted payment page must be visited.
type CheckoutResult struct {
	Status        string `json:"status"`
	CreditApplied string `json:"credit_applied"`
	CardDue       string `json:"card_due"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// StartCheckout begins payment for a booking. Re-invoking while a
// session is open re-serves the same session instead of opening another.
func (s *PaymentService) StartCheckout(ctx context.Context, userID, bookingID uint64, idemKey string) (*CheckoutResult, error) {
	b, err := s.repo.GetBooking(ctx, nil, bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "booking not found")
		}
		return nil, apperr.ClassifyDB(err)
	}
	if b.UserID != userID {
		return nil, apperr.New(apperr.PermissionDenied, "not your booking")
	}

	switch b.Status {
	case model.BookingPending:
		// fall through to open a checkout
	case model.BookingAwaitingPayment:
		return s.reserveExistingSession(ctx, b)
	case model.BookingConfirmed:
		return nil, apperr.New(apperr.Conflict, "booking already paid")
	default:
		return nil, apperr.New(apperr.Conflict, "booking is cancelled")
	}

	totalCents := money.FromDecimal(b.Total)
	ref := fmt.Sprintf("booking:%d", bookingID)
	creditKey := idemKey + ":credit"

	// A replay must reuse the split the first attempt chose, so the
	// provider's idempotent session replay sees the same amount. The
	// debit ledger entry pins it.
	var creditApplied money.Cents
	debited, prior, err := s.repo.EntryExists(ctx, s.repo.DB(ctx), userID, creditKey, model.EntryDebit)
	if err != nil {
		return nil, apperr.ClassifyDB(err)
	}
	if debited {
		creditApplied = money.FromDecimal(prior.Amount)
	} else {
		bal, err := s.wallet.Balance(ctx, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "read credit balance", err)
		}
		creditApplied = money.Min(money.FromDecimal(bal), totalCents)
	}
	cardDue := totalCents - creditApplied

	if cardDue == 0 {
		if creditApplied > 0 {
			if _, err := s.wallet.Debit(ctx, userID, creditApplied.Decimal(), creditKey, ref); err != nil {
				if errors.Is(err, repo.ErrInsufficientCredit) {
					return nil, apperr.New(apperr.Conflict, "credit balance changed, retry")
				}
				return nil, apperr.Wrap(apperr.Internal, "apply platform credit", err)
			}
		}
		if err := s.completeWithCredit(ctx, b, creditApplied, idemKey); err != nil {
			return nil, err
		}
		return &CheckoutResult{
			Status:        CheckoutPaidWithCredit,
			CreditApplied: creditApplied.String(),
			CardDue:       money.Cents(0).String(),
		}, nil
	}

	// Open the session before touching the wallet: a provider failure
	// leaves the balance alone and the same key can simply retry. An
	// orphaned unpaid session expires on its own.
	sess, err := s.client.CreateCheckoutSession(ctx, stripe.SessionParams{
		AmountCents:       int64(cardDue),
		Currency:          "usd",
		ProductName:       fmt.Sprintf("Venue booking #%d", bookingID),
		SuccessURL:        s.successURL,
		CancelURL:         s.cancelURL,
		ClientReferenceID: strconv.FormatUint(bookingID, 10),
		IdempotencyKey:    idemKey,
	})
	if err != nil {
		return nil, err
	}
	if creditApplied > 0 {
		if _, err := s.wallet.Debit(ctx, userID, creditApplied.Decimal(), creditKey, ref); err != nil {
			if errors.Is(err, repo.ErrInsufficientCredit) {
				return nil, apperr.New(apperr.Conflict, "credit balance changed, retry")
			}
			return nil, apperr.Wrap(apperr.Internal, "apply platform credit", err)
		}
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &model.PaymentRecord{
			BookingID:      &bookingID,
			UserID:         userID,
			Purpose:        model.PurposeBooking,
			CreditCents:    int64(creditApplied),
			CardCents:      int64(cardDue),
			Currency:       "usd",
			SessionID:      sess.ID,
			Status:         model.PaymentPending,
			IdempotencyKey: &idemKey,
		}
		if err := s.repo.CreatePaymentRecord(ctx, tx, rec); err != nil {
			return err
		}
		return s.repo.UpdateBookingStatus(ctx, tx, bookingID, model.BookingPending, model.BookingAwaitingPayment)
	})
	if err != nil {
		return nil, apperr.ClassifyDB(err)
	}

	return &CheckoutResult{
		Status:        CheckoutRedirect,
		CreditApplied: creditApplied.String(),
		CardDue:       cardDue.String(),
		CheckoutURL:   sess.URL,
		SessionID:     sess.ID,
	}, nil
}

func (s *PaymentService) reserveExistingSession(ctx context.Context, b *model.Booking) (*CheckoutResult, error) {
	rec, err := s.repo.GetPendingPaymentForBooking(ctx, nil, b.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Conflict, "payment already in progress", err)
	}
	sess, err := s.client.GetCheckoutSession(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{
		Status:        CheckoutRedirect,
		CreditApplied: money.Cents(rec.CreditCents).String(),
		CardDue:       money.Cents(rec.CardCents).String(),
		CheckoutURL:   sess.URL,
		SessionID:     sess.ID,
	}, nil
}

func (s *PaymentService) completeWithCredit(ctx context.Context, b *model.Booking, creditApplied money.Cents, idemKey string) error {
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &model.PaymentRecord{
			BookingID:      &b.ID,
			UserID:         b.UserID,
			Purpose:        model.PurposeBooking,
			CreditCents:    int64(creditApplied),
			Currency:       "usd",
			SessionID:      "credit:" + idemKey, // no provider session; keep the unique ref
			Status:         model.PaymentPaid,
			IdempotencyKey: &idemKey,
		}
		if err := s.repo.CreatePaymentRecord(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.repo.UpdateBookingStatus(ctx, tx, b.ID, model.BookingPending, model.BookingConfirmed); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"booking_id": b.ID, "user_id": b.UserID, "credit_cents": creditApplied})
		evt := &model.OutboxEvent{Aggregate: "Payment", AggregateID: b.ID, EventType: "PaymentSucceeded", Payload: string(payload)}
		return s.repo.CreateOutboxEvent(ctx, tx, evt)
	})
	if err != nil {
		return apperr.ClassifyDB(err)
	}
	return nil
}

// StartTopUp opens a checkout whose completion credits the wallet.
func (s *PaymentService) StartTopUp(ctx context.Context, userID uint64, amount money.Cents, idemKey string) (*CheckoutResult, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "amount must be positive")
	}
	sess, err := s.client.CreateCheckoutSession(ctx, stripe.SessionParams{
		AmountCents:       int64(amount),
		Currency:          "usd",
		ProductName:       "Platform credit top-up",
		SuccessURL:        s.successURL,
		CancelURL:         s.cancelURL,
		ClientReferenceID: fmt.Sprintf("topup:%d", userID),
		IdempotencyKey:    idemKey,
	})
	if err != nil {
		return nil, err
	}
	rec := &model.PaymentRecord{
		UserID:         userID,
		Purpose:        model.PurposeTopUp,
		CardCents:      int64(amount),
		Currency:       "usd",
		SessionID:      sess.ID,
		Status:         model.PaymentPending,
		IdempotencyKey: &idemKey,
	}
	if err := s.repo.CreatePaymentRecord(ctx, nil, rec); err != nil {
		return nil, apperr.ClassifyDB(err)
	}
	return &CheckoutResult{
		Status:      CheckoutRedirect,
		CardDue:     amount.String(),
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
	}, nil
}

// HandleEvent applies a verified provider webhook. Unknown sessions and
// repeated deliveries are acknowledged without effect.
func (s *PaymentService) HandleEvent(ctx context.Context, evt *stripe.Event) error {
	switch evt.Type {
	case stripe.EventCheckoutCompleted:
		return s.handleCompleted(ctx, evt)
	case stripe.EventCheckoutExpired:
		return s.handleExpired(ctx, evt)
	default:
		return nil
	}
}

func (s *PaymentService) handleCompleted(ctx context.Context, evt *stripe.Event) error {
	sess, err := evt.Session()
	if err != nil {
		return err
	}
	rec, err := s.repo.GetPaymentBySession(ctx, nil, sess.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warnf("webhook for unknown session %s", sess.ID)
			return nil
		}
		return apperr.ClassifyDB(err)
	}
	if rec.Status == model.PaymentPaid {
		return nil
	}

	// Credit the wallet before the record flips to paid: if this fails
	// the record stays pending and the provider's redelivery retries the
	// credit. The entry key keeps it single-shot across deliveries.
	if rec.Purpose == model.PurposeTopUp {
		amt := money.Cents(rec.CardCents).Decimal()
		if _, err := s.wallet.Credit(ctx, rec.UserID, amt, "topup:"+sess.ID, model.EntryTopUp, "session:"+sess.ID); err != nil {
			return apperr.Wrap(apperr.Internal, "credit top-up", err)
		}
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec.Status = model.PaymentPaid
		rec.IntentID = sess.PaymentIntent
		if err := s.repo.SavePaymentRecord(ctx, tx, rec); err != nil {
			return err
		}
		if rec.Purpose == model.PurposeBooking && rec.BookingID != nil {
			if err := s.repo.UpdateBookingStatus(ctx, tx, *rec.BookingID, model.BookingAwaitingPayment, model.BookingConfirmed); err != nil {
				return err
			}
		}
		payload, _ := json.Marshal(map[string]interface{}{"session_id": sess.ID, "user_id": rec.UserID, "purpose": rec.Purpose, "card_cents": rec.CardCents})
		evtRow := &model.OutboxEvent{Aggregate: "Payment", AggregateID: rec.ID, EventType: "PaymentSucceeded", Payload: string(payload)}
		return s.repo.CreateOutboxEvent(ctx, tx, evtRow)
	})
	if err != nil {
		return apperr.ClassifyDB(err)
	}
	return nil
}

func (s *PaymentService) handleExpired(ctx context.Context, evt *stripe.Event) error {
	sess, err := evt.Session()
	if err != nil {
		return err
	}
	rec, err := s.repo.GetPaymentBySession(ctx, nil, sess.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apperr.ClassifyDB(err)
	}
	if rec.Status != model.PaymentPending {
		return nil
	}

	// Release the held credit before the record flips to expired, for
	// the same reason handleCompleted credits first: a failed release
	// keeps the record pending so redelivery reattempts it.
	if rec.Purpose == model.PurposeBooking && rec.BookingID != nil && rec.CreditCents > 0 {
		amt := money.Cents(rec.CreditCents).Decimal()
		ref := fmt.Sprintf("booking:%d", *rec.BookingID)
		if _, err := s.wallet.Credit(ctx, rec.UserID, amt, "release:"+sess.ID, model.EntryRefund, ref); err != nil {
			return apperr.Wrap(apperr.Internal, "release held credit", err)
		}
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec.Status = model.PaymentExpired
		if err := s.repo.SavePaymentRecord(ctx, tx, rec); err != nil {
			return err
		}
		if rec.Purpose == model.PurposeBooking && rec.BookingID != nil {
			if err := s.repo.UpdateBookingStatus(ctx, tx, *rec.BookingID, model.BookingAwaitingPayment, model.BookingPending); err != nil && !errors.Is(err, repo.ErrStatusChanged) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.ClassifyDB(err)
	}
	return nil
}

// Refund reverses a paid booking: the card portion through the provider,
// the credit portion back onto the wallet.
func (s *PaymentService) Refund(ctx context.Context, userID, bookingID uint64, idemKey string) error {
	b, err := s.repo.GetBooking(ctx, nil, bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "booking not found")
		}
		return apperr.ClassifyDB(err)
	}
	if b.UserID != userID {
		return apperr.New(apperr.PermissionDenied, "not your booking")
	}
	if b.Status != model.BookingConfirmed {
		return apperr.New(apperr.Conflict, "booking is not refundable in its current state")
	}

	var rec model.PaymentRecord
	if err := s.repo.DB(ctx).Where("booking_id=? AND status=?", bookingID, model.PaymentPaid).First(&rec).Error; err != nil {
		return apperr.ClassifyDB(err)
	}

	if rec.CardCents > 0 && rec.IntentID != "" {
		if _, err := s.client.CreateRefund(ctx, rec.IntentID, rec.CardCents, idemKey); err != nil {
			return err
		}
	}
	if rec.CreditCents > 0 {
		amt := money.Cents(rec.CreditCents).Decimal()
		ref := fmt.Sprintf("booking:%d", bookingID)
		if _, err := s.wallet.Credit(ctx, userID, amt, idemKey+":credit", model.EntryRefund, ref); err != nil {
			return apperr.Wrap(apperr.Internal, "refund credit portion", err)
		}
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec.Status = model.PaymentRefunded
		if err := s.repo.SavePaymentRecord(ctx, tx, &rec); err != nil {
			return err
		}
		if err := s.repo.UpdateBookingStatus(ctx, tx, bookingID, model.BookingConfirmed, model.BookingCancelled); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"booking_id": bookingID, "user_id": userID, "card_cents": rec.CardCents, "credit_cents": rec.CreditCents})
		evt := &model.OutboxEvent{Aggregate: "Payment", AggregateID: rec.ID, EventType: "PaymentRefunded", Payload: string(payload)}
		return s.repo.CreateOutboxEvent(ctx, tx, evt)
	})
	if err != nil {
		return apperr.ClassifyDB(err)
	}
	return nil
}
