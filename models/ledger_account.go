package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"referral-system/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerAccount – счёт участника реферальной программы.
// pending_payout может уходить в минус после возвратов: долг гасится
// будущими начислениями раньше, чем сработает новая выплата
type LedgerAccount struct {
	ID                 string    `json:"id" db:"id"`
	UserID             string    `json:"user_id" db:"user_id"`
	Code               string    `json:"code" db:"code"`
	PayoutEmail        string    `json:"payout_email" db:"payout_email"`
	PendingPayout      float64   `json:"pending_payout" db:"pending_payout"`
	AccumulatedPayout  float64   `json:"accumulated_payout" db:"accumulated_payout"`
	PayoutPerReferral  float64   `json:"payout_per_referral" db:"payout_per_referral"`
	PercentPerReferral *float64  `json:"percent_per_referral,omitempty" db:"percent_per_referral"`
	PayoutCeiling      *float64  `json:"payout_ceiling,omitempty" db:"payout_ceiling"`
	Processing         bool      `json:"processing" db:"processing"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// IsCeilingAccount – процентный (инфлюенсерский) счёт: начисления копятся
// до порога, затем уходят одним консолидированным переводом
func (a *LedgerAccount) IsCeilingAccount() bool {
	return a.PercentPerReferral != nil && a.PayoutCeiling != nil
}

// GenerateReferralCode выдаёт короткий уникальный код из uuid
func GenerateReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateLedgerAccount создаёт счёт при регистрации приглашающего
func CreateLedgerAccount(userID, payoutEmail string, payoutPerReferral float64) (*LedgerAccount, error) {
	var a LedgerAccount
	err := database.Pool.QueryRow(context.Background(), `
        INSERT INTO ledger_accounts (user_id, code, payout_email, payout_per_referral)
        VALUES ($1, $2, $3, $4)
        RETURNING id, user_id, code, payout_email, pending_payout, accumulated_payout,
                  payout_per_referral, percent_per_referral, payout_ceiling, processing, created_at
    `, userID, GenerateReferralCode(), payoutEmail, payoutPerReferral).Scan(
		&a.ID, &a.UserID, &a.Code, &a.PayoutEmail, &a.PendingPayout, &a.AccumulatedPayout,
		&a.PayoutPerReferral, &a.PercentPerReferral, &a.PayoutCeiling, &a.Processing, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountColumns = `id, user_id, code, payout_email, pending_payout, accumulated_payout,
    payout_per_referral, percent_per_referral, payout_ceiling, processing, created_at`

func scanAccount(row pgx.Row) (*LedgerAccount, error) {
	var a LedgerAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.Code, &a.PayoutEmail, &a.PendingPayout, &a.AccumulatedPayout,
		&a.PayoutPerReferral, &a.PercentPerReferral, &a.PayoutCeiling, &a.Processing, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func GetAccountByCode(ctx context.Context, code string) (*LedgerAccount, error) {
	return scanAccount(database.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE code = $1`, code))
}

func GetAccountByUserID(ctx context.Context, userID string) (*LedgerAccount, error) {
	return scanAccount(database.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE user_id = $1`, userID))
}

// CodeExists проверяет код без загрузки счёта (валидация при регистрации)
func CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := database.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_accounts WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// CreditReferral атомарно начисляет на счёт: pending += pendingDelta,
// accumulated += accumulatedDelta. Инкременты коммутативны – параллельные
// начисления от разных рефералов не теряются даже во время выплаты.
// Возвращает новый pending-баланс (для проверки порога)
func CreditReferral(ctx context.Context, accountID string, pendingDelta, accumulatedDelta float64) (float64, error) {
	var newPending float64
	err := database.Pool.QueryRow(ctx, `
        UPDATE ledger_accounts
        SET pending_payout = pending_payout + $2,
            accumulated_payout = accumulated_payout + $3,
            updated_at = NOW()
        WHERE id = $1
        RETURNING pending_payout
    `, accountID, pendingDelta, accumulatedDelta).Scan(&newPending)
	return newPending, err
}

// ClaimAccount захватывает аренду счёта (processing=true, только если false).
// false – аренда уже у другого процесса, штатная конкуренция
func ClaimAccount(ctx context.Context, accountID string) (bool, error) {
	tag, err := database.Pool.Exec(ctx, `
        UPDATE ledger_accounts
        SET processing = true, updated_at = NOW()
        WHERE id = $1 AND processing = false
    `, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func ReleaseAccount(ctx context.Context, accountID string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE ledger_accounts SET processing = false, updated_at = NOW() WHERE id = $1
    `, accountID)
	return err
}

// ClaimWithdrawal одним оператором берёт аренду, снимает снимок баланса и
// уменьшает pending ровно на снимок. Начисления, пришедшие во время
// внешнего вызова, при этом сохраняются. Возвращает (0, nil), если аренда
// занята или баланс ниже минимума
func ClaimWithdrawal(ctx context.Context, accountID string) (float64, error) {
	var claimed float64
	err := database.Pool.QueryRow(ctx, `
        UPDATE ledger_accounts a
        SET processing = true,
            pending_payout = a.pending_payout - old.pending_payout,
            updated_at = NOW()
        FROM (SELECT id, pending_payout, payout_per_referral FROM ledger_accounts WHERE id = $1 FOR UPDATE) old
        WHERE a.id = old.id AND a.processing = false AND old.pending_payout >= old.payout_per_referral
        RETURNING old.pending_payout
    `, accountID).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

// RollbackWithdrawal возвращает снятую сумму и отпускает аренду.
// Вызывается ТОЛЬКО когда внешний перевод точно не прошёл
func RollbackWithdrawal(ctx context.Context, accountID string, amount float64) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE ledger_accounts
        SET pending_payout = pending_payout + $2, processing = false, updated_at = NOW()
        WHERE id = $1
    `, accountID, amount)
	return err
}

// SettleBalance финализирует пороговую выплату: pending уменьшается на
// выплаченный снимок (а не обнуляется – параллельные начисления остаются),
// accumulated растёт на ту же сумму, аренда снимается
func SettleBalance(ctx context.Context, accountID string, amount float64) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE ledger_accounts
        SET pending_payout = pending_payout - $2,
            accumulated_payout = accumulated_payout + $2,
            processing = false,
            updated_at = NOW()
        WHERE id = $1
    `, accountID, amount)
	return err
}

// DebitRefund списывает возврат с обоих балансов в переданной транзакции.
// Баланс может стать отрицательным – это долг перед системой
func DebitRefund(ctx context.Context, tx pgx.Tx, accountID string, amount float64) error {
	_, err := tx.Exec(ctx, `
        UPDATE ledger_accounts
        SET pending_payout = pending_payout - $2,
            accumulated_payout = accumulated_payout - $2,
            updated_at = NOW()
        WHERE id = $1
    `, accountID, amount)
	return err
}
