package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/logger"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/repo"
	"github.com/venuehub/marketplace/internal/stripe"
)

// fakeProvider mimics the slice of the provider REST surface the service
// touches. Each created session remembers the requested amount; refunds
// are deduplicated by idempotency key the way the real provider does.
type fakeProvider struct {
	*httptest.Server
	sessions     map[string]int64
	refunds      []int64
	refundKeys   map[string]bool
	failSessions int
	nextID       int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	fp := &fakeProvider{sessions: map[string]int64{}, refundKeys: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		if fp.failSessions > 0 {
			fp.failSessions--
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
				"type": "api_error", "message": "try again",
			}})
			return
		}
		assert.NoError(t, r.ParseForm())
		var amount int64
		fmt.Sscan(r.PostFormValue("line_items[0][price_data][unit_amount]"), &amount)
		fp.nextID++
		id := fmt.Sprintf("cs_test_%d", fp.nextID)
		fp.sessions[id] = amount
		json.NewEncoder(w).Encode(map[string]any{
			"id": id, "url": "https://pay.example/s/" + id, "status": "open",
			"amount_total": amount, "currency": "usd",
		})
	})
	mux.HandleFunc("GET /v1/checkout/sessions/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/checkout/sessions/"):]
		amount, ok := fp.sessions[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
				"type": "invalid_request_error", "code": "resource_missing", "message": "no such session",
			}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": id, "url": "https://pay.example/s/" + id, "status": "open",
			"amount_total": amount, "currency": "usd",
		})
	})
	mux.HandleFunc("POST /v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			if fp.refundKeys[key] {
				json.NewEncoder(w).Encode(map[string]any{"id": "re_1", "status": "succeeded"})
				return
			}
			fp.refundKeys[key] = true
		}
		var amount int64
		fmt.Sscan(r.PostFormValue("amount"), &amount)
		fp.refunds = append(fp.refunds, amount)
		json.NewEncoder(w).Encode(map[string]any{"id": "re_1", "status": "succeeded"})
	})
	fp.Server = httptest.NewServer(mux)
	return fp
}

type paymentFixture struct {
	payments *PaymentService
	wallet   *WalletService
	provider *fakeProvider
	db       *gorm.DB
	ctx      context.Context
}

func newPaymentFixture(t *testing.T, name string) *paymentFixture {
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.WalletEntry{}, &model.OutboxEvent{},
		&model.Booking{}, &model.PaymentRecord{},
	))

	rdb, _ := redismock.NewClientMock()
	log, _ := logger.New("test")
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)

	provider := newFakeProvider(t)
	t.Cleanup(provider.Close)

	wallet := NewWalletService(repository, log)
	client := stripe.NewClient(provider.URL, "sk_test_x", log)
	payments := NewPaymentService(repository, wallet, client,
		"https://venuehub.example/ok", "https://venuehub.example/no", log)

	return &paymentFixture{payments: payments, wallet: wallet, provider: provider, db: db, ctx: context.Background()}
}

func (f *paymentFixture) seedBooking(t *testing.T, userID uint64, total int64) *model.Booking {
	b := &model.Booking{
		VenueID: 1, UserID: userID,
		StartsAt: time.Now().Add(48 * time.Hour), Hours: 2,
		Subtotal: decimal.NewFromInt(total), Fee: decimal.Zero, Total: decimal.NewFromInt(total),
		Status: model.BookingPending,
	}
	assert.NoError(t, f.db.Create(b).Error)
	return b
}

func TestStartCheckout_SplitsCreditAndCard(t *testing.T) {
	f := newPaymentFixture(t, "pay_split")
	b := f.seedBooking(t, 10, 100)

	_, err := f.wallet.Credit(f.ctx, 10, decimal.NewFromInt(40), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 10, b.ID, "idem-1")
	assert.NoError(t, err)
	assert.Equal(t, CheckoutRedirect, res.Status)
	assert.Equal(t, "40.00", res.CreditApplied)
	assert.Equal(t, "60.00", res.CardDue)
	assert.Contains(t, res.CheckoutURL, res.SessionID)
	assert.EqualValues(t, 6000, f.provider.sessions[res.SessionID])

	// credit was taken immediately
	bal, err := f.wallet.Balance(f.ctx, 10)
	assert.NoError(t, err)
	assert.True(t, bal.IsZero())

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingAwaitingPayment, booking.Status)

	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.EqualValues(t, 4000, rec.CreditCents)
	assert.EqualValues(t, 6000, rec.CardCents)
	assert.Equal(t, model.PaymentPending, rec.Status)

	// re-invoking while the session is open re-serves it
	res2, err := f.payments.StartCheckout(f.ctx, 10, b.ID, "idem-other")
	assert.NoError(t, err)
	assert.Equal(t, res.SessionID, res2.SessionID)
	assert.Len(t, f.provider.sessions, 1)
}

func TestStartCheckout_CreditCoversEverything(t *testing.T) {
	f := newPaymentFixture(t, "pay_credit_only")
	b := f.seedBooking(t, 11, 50)

	_, err := f.wallet.Credit(f.ctx, 11, decimal.NewFromInt(200), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 11, b.ID, "idem-2")
	assert.NoError(t, err)
	assert.Equal(t, CheckoutPaidWithCredit, res.Status)
	assert.Equal(t, "50.00", res.CreditApplied)
	assert.Equal(t, "0.00", res.CardDue)
	assert.Empty(t, res.CheckoutURL)
	assert.Len(t, f.provider.sessions, 0)

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingConfirmed, booking.Status)

	bal, _ := f.wallet.Balance(f.ctx, 11)
	assert.Equal(t, "150", bal.StringFixed(0))
}

func TestStartCheckout_AccessAndStateChecks(t *testing.T) {
	f := newPaymentFixture(t, "pay_guard")
	b := f.seedBooking(t, 12, 80)

	_, err := f.payments.StartCheckout(f.ctx, 999, b.ID, "k")
	assert.Error(t, err)

	_, err = f.payments.StartCheckout(f.ctx, 12, 424242, "k")
	assert.Error(t, err)
}

func completedEvent(sessionID string, intent string) *stripe.Event {
	var evt stripe.Event
	evt.ID = "evt_1"
	evt.Type = stripe.EventCheckoutCompleted
	evt.Data.Object = json.RawMessage(fmt.Sprintf(`{"id":%q,"payment_intent":%q,"status":"complete"}`, sessionID, intent))
	return &evt
}

func expiredEvent(sessionID string) *stripe.Event {
	var evt stripe.Event
	evt.ID = "evt_2"
	evt.Type = stripe.EventCheckoutExpired
	evt.Data.Object = json.RawMessage(fmt.Sprintf(`{"id":%q,"status":"expired"}`, sessionID))
	return &evt
}

func TestHandleEvent_CompletedConfirmsBooking(t *testing.T) {
	f := newPaymentFixture(t, "pay_webhook")
	b := f.seedBooking(t, 13, 100)

	res, err := f.payments.StartCheckout(f.ctx, 13, b.ID, "idem-3")
	assert.NoError(t, err)

	err = f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_123"))
	assert.NoError(t, err)

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingConfirmed, booking.Status)

	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.Equal(t, model.PaymentPaid, rec.Status)
	assert.Equal(t, "pi_123", rec.IntentID)

	// redelivery is a no-op
	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_123")))

	// unknown sessions are acknowledged without effect
	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent("cs_unknown", "pi_x")))
}

func TestHandleEvent_ExpiredReleasesCredit(t *testing.T) {
	f := newPaymentFixture(t, "pay_expired")
	b := f.seedBooking(t, 14, 100)

	_, err := f.wallet.Credit(f.ctx, 14, decimal.NewFromInt(30), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 14, b.ID, "idem-4")
	assert.NoError(t, err)

	bal, _ := f.wallet.Balance(f.ctx, 14)
	assert.True(t, bal.IsZero())

	err = f.payments.HandleEvent(f.ctx, expiredEvent(res.SessionID))
	assert.NoError(t, err)

	// held credit came back and the booking is payable again
	bal, _ = f.wallet.Balance(f.ctx, 14)
	assert.Equal(t, "30", bal.StringFixed(0))

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingPending, booking.Status)
}

func TestRefund_ReversesBothPortions(t *testing.T) {
	f := newPaymentFixture(t, "pay_refund")
	b := f.seedBooking(t, 15, 100)

	_, err := f.wallet.Credit(f.ctx, 15, decimal.NewFromInt(25), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 15, b.ID, "idem-5")
	assert.NoError(t, err)
	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_777")))

	assert.NoError(t, f.payments.Refund(f.ctx, 15, b.ID, "refund-1"))

	// card portion refunded at the provider
	assert.Equal(t, []int64{7500}, f.provider.refunds)

	// credit portion back on the wallet
	bal, _ := f.wallet.Balance(f.ctx, 15)
	assert.Equal(t, "25", bal.StringFixed(0))

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingCancelled, booking.Status)

	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.Equal(t, model.PaymentRefunded, rec.Status)
}

// flakyRepo fails a configurable number of payment record writes to
// exercise the retry paths around them.
type flakyRepo struct {
	repo.RepositoryInterface
	failSaves int
}

func (f *flakyRepo) SavePaymentRecord(ctx context.Context, tx *gorm.DB, p *model.PaymentRecord) error {
	if f.failSaves > 0 {
		f.failSaves--
		return errSimulatedWrite
	}
	return f.RepositoryInterface.SavePaymentRecord(ctx, tx, p)
}

var errSimulatedWrite = errors.New("simulated write failure")

func (f *paymentFixture) withFlakyRepo() (*PaymentService, *flakyRepo) {
	flaky := &flakyRepo{RepositoryInterface: f.payments.repo}
	svc := NewPaymentService(flaky, f.wallet, f.payments.client,
		f.payments.successURL, f.payments.cancelURL, f.payments.log)
	return svc, flaky
}

func TestStartCheckout_RetryAfterProviderFailure(t *testing.T) {
	f := newPaymentFixture(t, "pay_provider_down")
	b := f.seedBooking(t, 17, 100)

	_, err := f.wallet.Credit(f.ctx, 17, decimal.NewFromInt(40), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	// outlast the client's own retries so the call surfaces the failure
	f.provider.failSessions = 3
	_, err = f.payments.StartCheckout(f.ctx, 17, b.ID, "idem-down")
	assert.Error(t, err)

	// the failed attempt never touched the wallet
	bal, err := f.wallet.Balance(f.ctx, 17)
	assert.NoError(t, err)
	assert.Equal(t, "40", bal.StringFixed(0))

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingPending, booking.Status)

	// retrying the same key once the provider recovers applies the
	// credit exactly once
	res, err := f.payments.StartCheckout(f.ctx, 17, b.ID, "idem-down")
	assert.NoError(t, err)
	assert.Equal(t, "40.00", res.CreditApplied)
	assert.Equal(t, "60.00", res.CardDue)

	bal, err = f.wallet.Balance(f.ctx, 17)
	assert.NoError(t, err)
	assert.True(t, bal.IsZero())

	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.EqualValues(t, 4000, rec.CreditCents)
	assert.EqualValues(t, 6000, rec.CardCents)
}

func TestHandleEvent_TopUpSurvivesRecordWriteFailure(t *testing.T) {
	f := newPaymentFixture(t, "pay_topup_flaky")
	payments, flaky := f.withFlakyRepo()

	res, err := payments.StartTopUp(f.ctx, 18, 2500, "topup-flaky")
	assert.NoError(t, err)

	flaky.failSaves = 1
	err = payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_f"))
	assert.Error(t, err)

	// record stayed pending, so redelivery finishes the job without
	// crediting again
	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.Equal(t, model.PaymentPending, rec.Status)

	assert.NoError(t, payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_f")))

	bal, err := f.wallet.Balance(f.ctx, 18)
	assert.NoError(t, err)
	assert.Equal(t, "25", bal.StringFixed(0))

	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.Equal(t, model.PaymentPaid, rec.Status)
}

func TestHandleEvent_ExpiredSurvivesRecordWriteFailure(t *testing.T) {
	f := newPaymentFixture(t, "pay_expired_flaky")
	b := f.seedBooking(t, 19, 100)

	_, err := f.wallet.Credit(f.ctx, 19, decimal.NewFromInt(30), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 19, b.ID, "idem-exp")
	assert.NoError(t, err)

	payments, flaky := f.withFlakyRepo()
	flaky.failSaves = 1
	err = payments.HandleEvent(f.ctx, expiredEvent(res.SessionID))
	assert.Error(t, err)

	assert.NoError(t, payments.HandleEvent(f.ctx, expiredEvent(res.SessionID)))

	// the held credit came back exactly once
	bal, err := f.wallet.Balance(f.ctx, 19)
	assert.NoError(t, err)
	assert.Equal(t, "30", bal.StringFixed(0))

	var rec model.PaymentRecord
	assert.NoError(t, f.db.Where("session_id = ?", res.SessionID).First(&rec).Error)
	assert.Equal(t, model.PaymentExpired, rec.Status)
}

func TestRefund_RetryDoesNotRefundCardTwice(t *testing.T) {
	f := newPaymentFixture(t, "pay_refund_retry")
	b := f.seedBooking(t, 20, 100)

	_, err := f.wallet.Credit(f.ctx, 20, decimal.NewFromInt(25), "seed", model.EntryTopUp, "")
	assert.NoError(t, err)

	res, err := f.payments.StartCheckout(f.ctx, 20, b.ID, "idem-rf")
	assert.NoError(t, err)
	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_rf")))

	// the record update fails after the provider refund went through
	payments, flaky := f.withFlakyRepo()
	flaky.failSaves = 1
	key := fmt.Sprintf("refund:%d", b.ID)
	assert.Error(t, payments.Refund(f.ctx, 20, b.ID, key))

	// retrying under the same key settles everything without a second
	// card refund or a double credit
	assert.NoError(t, f.payments.Refund(f.ctx, 20, b.ID, key))
	assert.Equal(t, []int64{7500}, f.provider.refunds)

	bal, err := f.wallet.Balance(f.ctx, 20)
	assert.NoError(t, err)
	assert.Equal(t, "25", bal.StringFixed(0))

	var booking model.Booking
	assert.NoError(t, f.db.First(&booking, b.ID).Error)
	assert.Equal(t, model.BookingCancelled, booking.Status)
}

func TestTopUpFlow(t *testing.T) {
	f := newPaymentFixture(t, "pay_topup")

	res, err := f.payments.StartTopUp(f.ctx, 16, 2500, "topup-1")
	assert.NoError(t, err)
	assert.Equal(t, CheckoutRedirect, res.Status)
	assert.Equal(t, "25.00", res.CardDue)

	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_topup")))

	bal, err := f.wallet.Balance(f.ctx, 16)
	assert.NoError(t, err)
	assert.Equal(t, "25", bal.StringFixed(0))

	// webhook redelivery must not double-credit
	assert.NoError(t, f.payments.HandleEvent(f.ctx, completedEvent(res.SessionID, "pi_topup")))
	bal, _ = f.wallet.Balance(f.ctx, 16)
	assert.Equal(t, "25", bal.StringFixed(0))
}
