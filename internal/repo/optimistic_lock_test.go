package repo

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/logger"
	"github.com/venuehub/marketplace/internal/model"
)

func TestOptimisticLock_StaleVersionRejected(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:lock_test?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Wallet{}))

	db.Create(&model.Wallet{UserID: 1, Balance: decimal.NewFromInt(100)})

	log, _ := logger.New("test")
	r := NewRepository(db, nil, &kafka.Writer{}, log)
	ctx := context.Background()

	w, err := r.GetWalletForUpdate(ctx, db, 1)
	assert.NoError(t, err)

	// first writer with the observed version wins
	err = r.UpdateWallet(ctx, db, 1, w.Balance.Add(decimal.NewFromInt(10)), w.Version)
	assert.NoError(t, err)

	// second writer holding the same stale version must fail
	err = r.UpdateWallet(ctx, db, 1, w.Balance.Add(decimal.NewFromInt(25)), w.Version)
	assert.Error(t, err)

	var final model.Wallet
	assert.NoError(t, db.First(&final, "user_id = ?", 1).Error)
	assert.True(t, final.Balance.Equal(decimal.NewFromInt(110)), "got %s", final.Balance)
	assert.EqualValues(t, w.Version+1, final.Version)
}

func TestEntryExists_Idempotency(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:entry_test?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.WalletEntry{}))

	log, _ := logger.New("test")
	r := NewRepository(db, nil, &kafka.Writer{}, log)
	ctx := context.Background()

	key := "dup-1"
	e := &model.WalletEntry{
		UserID: 7, Type: model.EntryCredit,
		Amount:        decimal.NewFromInt(10),
		BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(10),
		IdempotencyKey: &key,
	}
	assert.NoError(t, r.CreateEntry(ctx, db, e))

	found, row, err := r.EntryExists(ctx, db, 7, "dup-1", model.EntryCredit)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.True(t, row.BalanceAfter.Equal(decimal.NewFromInt(10)))

	// different type under the same key is a different operation
	found, _, err = r.EntryExists(ctx, db, 7, "dup-1", model.EntryDebit)
	assert.NoError(t, err)
	assert.False(t, found)

	// empty key disables the check
	found, _, err = r.EntryExists(ctx, db, 7, "", model.EntryCredit)
	assert.NoError(t, err)
	assert.False(t, found)
}
