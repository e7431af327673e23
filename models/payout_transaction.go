package models

import (
	"context"
	"time"

	"referral-system/database"

	"github.com/google/uuid"
)

type PayoutTransactionStatus string

const (
	PayoutTxPending   PayoutTransactionStatus = "pending"
	PayoutTxCompleted PayoutTransactionStatus = "completed"
	PayoutTxFailed    PayoutTransactionStatus = "failed"
)

// PayoutTransaction – журнальная запись одной попытки внешней выплаты.
// Сумма снимается в момент захвата и больше не меняется; записи не
// удаляются – по ним идёт сверка с провайдером
type PayoutTransaction struct {
	ID                   string                  `json:"id" db:"id"`
	Referrer             string                  `json:"referrer" db:"referrer"`
	Payout               float64                 `json:"payout" db:"payout"`
	Status               PayoutTransactionStatus `json:"status" db:"status"`
	ManualReviewRequired bool                    `json:"manual_review_required" db:"manual_review_required"`
	ProviderID           *string                 `json:"provider_id,omitempty" db:"provider_id"`
	Error                *string                 `json:"error,omitempty" db:"error"`
	CreatedAt            time.Time               `json:"created_at" db:"created_at"`
}

// CreatePayoutTransaction пишет запись в статусе pending ДО вызова провайдера,
// чтобы каждая отправка денег имела след ещё до того, как что-то ушло
func CreatePayoutTransaction(ctx context.Context, accountID string, amount float64) (string, error) {
	id := uuid.NewString()
	_, err := database.Pool.Exec(ctx, `
        INSERT INTO payout_transactions (id, referrer, payout, status)
        VALUES ($1, $2, $3, 'pending')
    `, id, accountID, amount)
	if err != nil {
		return "", err
	}
	return id, nil
}

func MarkTransactionCompleted(ctx context.Context, id, providerID string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE payout_transactions
        SET status = 'completed', provider_id = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `, id, providerID)
	return err
}

func MarkTransactionFailed(ctx context.Context, id, diagnostic string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE payout_transactions
        SET status = 'failed', error = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `, id, diagnostic)
	return err
}

// MarkTransactionManualReview оставляет запись в pending и поднимает флаг
// ручной сверки: деньги ушли, а локальная фиксация не удалась. Снимать
// флаг и закрывать запись будет оператор после сверки с провайдером
func MarkTransactionManualReview(ctx context.Context, id, diagnostic string) error {
	_, err := database.Pool.Exec(ctx, `
        UPDATE payout_transactions
        SET manual_review_required = true, error = $2, updated_at = NOW()
        WHERE id = $1
    `, id, diagnostic)
	return err
}

// GetTransactionsByAccount – история выплат счёта (новые сверху)
func GetTransactionsByAccount(accountID string) ([]PayoutTransaction, error) {
	rows, err := database.Pool.Query(context.Background(), `
        SELECT id, referrer, payout, status, manual_review_required, provider_id, error, created_at
        FROM payout_transactions
        WHERE referrer = $1
        ORDER BY created_at DESC
    `, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []PayoutTransaction
	for rows.Next() {
		var t PayoutTransaction
		err := rows.Scan(&t.ID, &t.Referrer, &t.Payout, &t.Status, &t.ManualReviewRequired, &t.ProviderID, &t.Error, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
