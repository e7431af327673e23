package models

import (
	"context"
	"errors"
	"time"

	"referral-system/database"

	"github.com/jackc/pgx/v5"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusApproved  ReferralStatus = "approved"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusFailed    ReferralStatus = "failed"
	ReferralStatusRefunded  ReferralStatus = "refunded"
)

// Referral – запись жизненного цикла приглашённого пользователя
// ID совпадает с id приглашённого (один реферал на пользователя)
type Referral struct {
	ID           string         `json:"id" db:"id"`
	Code         string         `json:"code" db:"code"`
	Status       ReferralStatus `json:"status" db:"status"`
	Paid         bool           `json:"paid" db:"paid"`
	Processing   bool           `json:"processing" db:"processing"`
	TimeToPayout *time.Time     `json:"time_to_payout" db:"time_to_payout"`
	ProductID    *string        `json:"product_id" db:"product_id"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// ReferralClaim – снимок полей, нужных для расчёта выплаты, на момент захвата
type ReferralClaim struct {
	ID        string
	Code      string
	ProductID string
}

// CreateReferral создаёт запись в статусе pending при регистрации по коду
func CreateReferral(referredID, code string) error {
	_, err := database.Pool.Exec(context.Background(), `
        INSERT INTO referrals (id, code, status) VALUES ($1, $2, 'pending')
    `, referredID, code)
	return err
}

func GetReferralByID(id string) (*Referral, error) {
	var r Referral
	err := database.Pool.QueryRow(context.Background(), `
        SELECT id, code, status, paid, processing, time_to_payout, product_id, created_at
        FROM referrals WHERE id = $1
    `, id).Scan(&r.ID, &r.Code, &r.Status, &r.Paid, &r.Processing, &r.TimeToPayout, &r.ProductID, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ApproveReferral переводит pending → approved после события первой оплаты.
// Возвращает false, если записи в статусе pending нет
func ApproveReferral(id, productID string, timeToPayout time.Time) (bool, error) {
	tag, err := database.Pool.Exec(context.Background(), `
        UPDATE referrals
        SET status = 'approved', product_id = $2, time_to_payout = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `, id, productID, timeToPayout)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimReferral атомарно захватывает запись под обработку (processing=true).
// Возвращает nil без ошибки, если запись уже обработана или захвачена –
// это штатный пропуск, а не сбой
func ClaimReferral(ctx context.Context, id string) (*ReferralClaim, error) {
	var c ReferralClaim
	err := database.Pool.QueryRow(ctx, `
        UPDATE referrals
        SET processing = true, updated_at = NOW()
        WHERE id = $1 AND status = 'approved' AND paid = false AND processing = false
        RETURNING id, code, COALESCE(product_id, '')
    `, id).Scan(&c.ID, &c.Code, &c.ProductID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FinishReferral фиксирует успешное завершение: paid=true, аренда снята
func FinishReferral(ctx context.Context, id string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE referrals
        SET status = 'completed', paid = true, processing = false, updated_at = NOW()
        WHERE id = $1
    `, id)
	return err
}

// FailReferral помечает запись сбойной и снимает аренду.
// Статус терминальный – автоматических повторов нет, разбирает оператор
func FailReferral(ctx context.Context, id string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE referrals
        SET status = 'failed', processing = false, updated_at = NOW()
        WHERE id = $1
    `, id)
	return err
}

// RefundReferral выполняется в переданной транзакции вместе со списанием
// со счёта – возврат и дебет либо фиксируются вместе, либо никак
func RefundReferral(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
        UPDATE referrals SET status = 'refunded', updated_at = NOW() WHERE id = $1
    `, id)
	return err
}

// MarkReferralRefunded – вариант без списания (реферал не был оплачен)
func MarkReferralRefunded(ctx context.Context, id string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE referrals SET status = 'refunded', updated_at = NOW() WHERE id = $1
    `, id)
	return err
}

// EligibleReferrals возвращает id записей, созревших для выплаты
func EligibleReferrals(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := database.Pool.Query(ctx, `
        SELECT id FROM referrals
        WHERE status = 'approved' AND paid = false AND processing = false AND time_to_payout <= $1
        ORDER BY time_to_payout
    `, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetReferralsByCode возвращает рефералов владельца кода (для личного кабинета)
func GetReferralsByCode(code string) ([]Referral, error) {
	rows, err := database.Pool.Query(context.Background(), `
        SELECT id, code, status, paid, processing, time_to_payout, product_id, created_at
        FROM referrals WHERE code = $1
        ORDER BY created_at DESC
    `, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []Referral
	for rows.Next() {
		var r Referral
		err := rows.Scan(&r.ID, &r.Code, &r.Status, &r.Paid, &r.Processing, &r.TimeToPayout, &r.ProductID, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
