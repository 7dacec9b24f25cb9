package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/venuehub/marketplace/internal/model"
)

// ErrInsufficientCredit is returned when a debit exceeds the wallet balance.
var ErrInsufficientCredit = errors.New("insufficient platform credit")

const balanceCacheTTL = 5 * time.Minute

// RepositoryInterface restricts Repo methods so services can be unit
// tested against a narrow surface.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, userID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	CreateEntry(ctx context.Context, tx *gorm.DB, e *model.WalletEntry) error
	EntryExists(ctx context.Context, tx *gorm.DB, userID uint64, idemKey, entryType string) (bool, *model.WalletEntry, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID uint64) (decimal.Decimal, error)

	GetVenue(ctx context.Context, id uint64) (*model.Venue, error)
	CreateVenue(ctx context.Context, v *model.Venue) error
	SaveVenue(ctx context.Context, v *model.Venue) error
	ListVenues(ctx context.Context, q VenueQuery) (*VenuePage, error)

	GetBooking(ctx context.Context, tx *gorm.DB, id uint64) (*model.Booking, error)
	CreateBooking(ctx context.Context, tx *gorm.DB, b *model.Booking) error
	UpdateBookingStatus(ctx context.Context, tx *gorm.DB, id uint64, from, to string) error

	CreatePaymentRecord(ctx context.Context, tx *gorm.DB, p *model.PaymentRecord) error
	SavePaymentRecord(ctx context.Context, tx *gorm.DB, p *model.PaymentRecord) error
	GetPaymentBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*model.PaymentRecord, error)
	GetPendingPaymentForBooking(ctx context.Context, tx *gorm.DB, bookingID uint64) (*model.PaymentRecord, error)
}

// Repository implements RepositoryInterface over gorm, redis and kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWalletForUpdate locks the wallet row. SQLite (used by tests) has no
// row locks; there the optimistic version check alone guards the update.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w model.Wallet
	if err := q.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a zero-balance wallet.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, userID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", userID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("optimistic lock conflict")
	}
	return nil
}

// CreateEntry inserts a ledger row.
func (r *Repository) CreateEntry(ctx context.Context, tx *gorm.DB, e *model.WalletEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// EntryExists checks duplicate by idem key.
func (r *Repository) EntryExists(ctx context.Context, tx *gorm.DB, userID uint64, idemKey, entryType string) (bool, *model.WalletEntry, error) {
	if idemKey == "" {
		return false, nil, nil
	}
	var e model.WalletEntry
	err := tx.WithContext(ctx).Where("user_id=? AND idempotency_key=? AND type=?", userID, idemKey, entryType).First(&e).Error
	if err == nil {
		return true, &e, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("credit:%d", userID), bal.String(), balanceCacheTTL).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("credit:%d", userID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
