// Package wallet backs llm.WalletLedger with a gorm-persisted balance row
// per user plus an append-only transaction log. Debit is idempotent on
// request_id: a second debit carrying a request_id already committed hits
// the transaction table's unique index and is treated as "already
// applied" rather than retried or double-charged.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the gorm-backed WalletLedger.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Ledger. Callers must have run llm.InitDatabase beforehand so
// the wallet tables exist.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, logger: logger.With(zap.String("component", "wallet_ledger"))}
}

var _ llm.WalletLedger = (*Ledger)(nil)

// GetBalance returns userID's current balance, or 0 for a user with no
// balance row yet (nothing has been debited or credited).
func (l *Ledger) GetBalance(ctx context.Context, userID string) (float64, error) {
	var row types.WalletBalance
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet: get_balance: %w", err)
	}
	return row.Balance, nil
}

// Debit subtracts amount from userID's balance, recording a WalletTransaction
// tagged with requestID. If a debit for requestID already committed, this
// is a no-op success: the orchestrator's at-most-once-per-request guarantee.
func (l *Ledger) Debit(ctx context.Context, userID string, amount float64, requestID string, meta map[string]any) error {
	return l.apply(ctx, userID, -amount, types.WalletTxDebit, requestID, meta)
}

// Credit adds amount to userID's balance, e.g. refunding a partially
// completed streamed request. Idempotent on requestID for the same reason
// Debit is.
func (l *Ledger) Credit(ctx context.Context, userID string, amount float64, requestID string, meta map[string]any) error {
	return l.apply(ctx, userID, amount, types.WalletTxCredit, requestID, meta)
}

func (l *Ledger) apply(ctx context.Context, userID string, signedAmount float64, kind types.WalletTransactionKind, requestID string, meta map[string]any) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := types.WalletTransaction{
			RequestID: requestID,
			Kind:      kind,
			UserID:    userID,
			Amount:    signedAmount,
			Meta:      meta,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		balance := types.WalletBalance{UserID: userID}
		if err := tx.FirstOrCreate(&balance, types.WalletBalance{UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Model(&types.WalletBalance{}).
			Where("user_id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", signedAmount)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		l.logger.Debug("wallet transaction already applied, skipping",
			zap.String("request_id", requestID), zap.String("kind", string(kind)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("wallet: %s: %w", kind, err)
	}
	return nil
}
