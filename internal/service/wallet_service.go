package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/repo"
)

// WalletService is the single owner of platform-credit arithmetic. Every
// balance change goes through Credit or Debit; there are no parallel
// code paths with divergent field fallbacks.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

// ErrInvalidAmount means non-positive amount passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// Credit adds platform credit; auto-creates the wallet if absent.
// entryType distinguishes top-ups from refunds in the ledger.
func (s *WalletService) Credit(ctx context.Context, userID uint64, amt decimal.Decimal, key, entryType, reference string) (decimal.Decimal, error) {
	if amt.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	if entryType == "" {
		entryType = model.EntryCredit
	}
	var finalBal decimal.Decimal
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		existed, row, err := s.repo.EntryExists(ctx, tx, userID, key, entryType)
		if err != nil {
			return err
		}
		if existed {
			finalBal = row.BalanceAfter
			return nil
		}

		w, err := s.repo.GetWalletForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				w = &model.Wallet{UserID: userID, Balance: decimal.Zero}
				if err := s.repo.CreateWallet(ctx, tx, w); err != nil {
					return err
				}
			} else {
				return err
			}
		}

		newBal := w.Balance.Add(amt)
		if err := s.repo.UpdateWallet(ctx, tx, userID, newBal, w.Version); err != nil {
			return err
		}
		e := &model.WalletEntry{
			UserID: userID, Type: entryType, Amount: amt,
			BalanceBefore: w.Balance, BalanceAfter: newBal,
			IdempotencyKey: &key,
		}
		if reference != "" {
			e.Reference = &reference
		}
		if err := s.repo.CreateEntry(ctx, tx, e); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"user_id": userID, "amount": amt, "balance": newBal, "entry_type": entryType})
		evt := &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: userID, EventType: "CreditAdded", Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, userID, newBal); err != nil {
			s.log.Warn(err)
		}
		finalBal = newBal
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return finalBal, nil
}

// Debit consumes platform credit. Fails with ErrInsufficientCredit when
// the balance can't cover the amount.
func (s *WalletService) Debit(ctx context.Context, userID uint64, amt decimal.Decimal, key, reference string) (decimal.Decimal, error) {
	if amt.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	var finalBal decimal.Decimal
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		existed, row, err := s.repo.EntryExists(ctx, tx, userID, key, model.EntryDebit)
		if err != nil {
			return err
		}
		if existed {
			finalBal = row.BalanceAfter
			return nil
		}
		w, err := s.repo.GetWalletForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repo.ErrInsufficientCredit
			}
			return err
		}
		if w.Balance.LessThan(amt) {
			return repo.ErrInsufficientCredit
		}
		newBal := w.Balance.Sub(amt)
		if err := s.repo.UpdateWallet(ctx, tx, userID, newBal, w.Version); err != nil {
			return err
		}
		e := &model.WalletEntry{
			UserID: userID, Type: model.EntryDebit, Amount: amt,
			BalanceBefore: w.Balance, BalanceAfter: newBal,
			IdempotencyKey: &key,
		}
		if reference != "" {
			e.Reference = &reference
		}
		if err := s.repo.CreateEntry(ctx, tx, e); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"user_id": userID, "amount": amt, "balance": newBal})
		evt := &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: userID, EventType: "CreditSpent", Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, userID, newBal); err != nil {
			s.log.Warn(err)
		}
		finalBal = newBal
		return nil
	})
	return finalBal, err
}

// Balance returns current platform credit, cache first. A missing
// wallet reads as zero rather than an error.
func (s *WalletService) Balance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	var w model.Wallet
	if err := s.repo.DB(ctx).Where("user_id=?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	_ = s.repo.CacheBalance(ctx, userID, w.Balance)
	return w.Balance, nil
}

// History fetches recent ledger entries.
func (s *WalletService) History(ctx context.Context, userID uint64, limit int, since time.Time) ([]model.WalletEntry, error) {
	var entries []model.WalletEntry
	err := s.repo.DB(ctx).
		Where("user_id=? AND created_at>=?", userID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
