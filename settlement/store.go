package settlement

import (
	"context"
	"fmt"
	"time"

	"referral-system/database"
	"referral-system/models"
)

// Store – всё, что движку нужно от хранилища. Методы обязаны быть
// атомарными в смысле условных инкрементов и compare-and-set переходов:
// именно на этом держится защита от двойной выплаты.
// Продакшен-реализация – pgStore поверх models, в тестах – память
type Store interface {
	ClaimReferral(ctx context.Context, id string) (*models.ReferralClaim, error)
	FinishReferral(ctx context.Context, id string) error
	FailReferral(ctx context.Context, id string) error
	GetReferral(ctx context.Context, id string) (*models.Referral, error)
	EligibleReferrals(ctx context.Context, now time.Time) ([]string, error)
	RefundPaidReferral(ctx context.Context, referralID, accountID string, amount float64) error
	MarkReferralRefunded(ctx context.Context, id string) error

	AccountByCode(ctx context.Context, code string) (*models.LedgerAccount, error)
	AccountByUserID(ctx context.Context, userID string) (*models.LedgerAccount, error)
	CreditReferral(ctx context.Context, accountID string, pendingDelta, accumulatedDelta float64) (float64, error)
	ClaimAccount(ctx context.Context, accountID string) (bool, error)
	ReleaseAccount(ctx context.Context, accountID string) error
	ClaimWithdrawal(ctx context.Context, accountID string) (float64, error)
	RollbackWithdrawal(ctx context.Context, accountID string, amount float64) error
	SettleBalance(ctx context.Context, accountID string, amount float64) error

	CreateTransaction(ctx context.Context, accountID string, amount float64) (string, error)
	CompleteTransaction(ctx context.Context, id, providerID string) error
	FailTransaction(ctx context.Context, id, diagnostic string) error
	FlagManualReview(ctx context.Context, id, diagnostic string) error

	Product(ctx context.Context, id string) (*models.Product, error)
}

// NewStore возвращает продакшен-хранилище поверх database.Pool
func NewStore() Store {
	return pgStore{}
}

type pgStore struct{}

func (pgStore) ClaimReferral(ctx context.Context, id string) (*models.ReferralClaim, error) {
	return models.ClaimReferral(ctx, id)
}

func (pgStore) FinishReferral(ctx context.Context, id string) error {
	return models.FinishReferral(ctx, id)
}

func (pgStore) FailReferral(ctx context.Context, id string) error {
	return models.FailReferral(ctx, id)
}

func (pgStore) GetReferral(ctx context.Context, id string) (*models.Referral, error) {
	return models.GetReferralByID(id)
}

func (pgStore) EligibleReferrals(ctx context.Context, now time.Time) ([]string, error) {
	return models.EligibleReferrals(ctx, now)
}

// RefundPaidReferral выполняет возврат и дебет счёта в одной транзакции:
// либо оба перехода фиксируются, либо ни одного
func (pgStore) RefundPaidReferral(ctx context.Context, referralID, accountID string, amount float64) error {
	tx, err := database.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := models.RefundReferral(ctx, tx, referralID); err != nil {
		return fmt.Errorf("refund referral: %w", err)
	}
	if err := models.DebitRefund(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("debit refund: %w", err)
	}
	return tx.Commit(ctx)
}

func (pgStore) MarkReferralRefunded(ctx context.Context, id string) error {
	return models.MarkReferralRefunded(ctx, id)
}

func (pgStore) AccountByCode(ctx context.Context, code string) (*models.LedgerAccount, error) {
	return models.GetAccountByCode(ctx, code)
}

func (pgStore) AccountByUserID(ctx context.Context, userID string) (*models.LedgerAccount, error) {
	return models.GetAccountByUserID(ctx, userID)
}

func (pgStore) CreditReferral(ctx context.Context, accountID string, pendingDelta, accumulatedDelta float64) (float64, error) {
	return models.CreditReferral(ctx, accountID, pendingDelta, accumulatedDelta)
}

func (pgStore) ClaimAccount(ctx context.Context, accountID string) (bool, error) {
	return models.ClaimAccount(ctx, accountID)
}

func (pgStore) ReleaseAccount(ctx context.Context, accountID string) error {
	return models.ReleaseAccount(ctx, accountID)
}

func (pgStore) ClaimWithdrawal(ctx context.Context, accountID string) (float64, error) {
	return models.ClaimWithdrawal(ctx, accountID)
}

func (pgStore) RollbackWithdrawal(ctx context.Context, accountID string, amount float64) error {
	return models.RollbackWithdrawal(ctx, accountID, amount)
}

func (pgStore) SettleBalance(ctx context.Context, accountID string, amount float64) error {
	return models.SettleBalance(ctx, accountID, amount)
}

func (pgStore) CreateTransaction(ctx context.Context, accountID string, amount float64) (string, error) {
	return models.CreatePayoutTransaction(ctx, accountID, amount)
}

func (pgStore) CompleteTransaction(ctx context.Context, id, providerID string) error {
	return models.MarkTransactionCompleted(ctx, id, providerID)
}

func (pgStore) FailTransaction(ctx context.Context, id, diagnostic string) error {
	return models.MarkTransactionFailed(ctx, id, diagnostic)
}

func (pgStore) FlagManualReview(ctx context.Context, id, diagnostic string) error {
	return models.MarkTransactionManualReview(ctx, id, diagnostic)
}

func (pgStore) Product(ctx context.Context, id string) (*models.Product, error) {
	return models.GetProductByID(ctx, id)
}
