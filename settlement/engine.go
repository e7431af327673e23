package settlement

import (
	"context"
	"fmt"
	"math"

	"referral-system/monitoring"

	"go.uber.org/zap"
)

// PayoutSender – внешний платёжный провайдер. Один вызов = один перевод.
// Никаких транзакционных гарантий с нашей БД у провайдера нет – поэтому
// весь протокол claim → вызов → finalize построен вокруг этой асимметрии
type PayoutSender interface {
	SendPayout(ctx context.Context, recipientEmail string, amount float64, memo string) (providerID string, err error)
}

// Alerter – канал экстренного оповещения оператора о manual review
type Alerter interface {
	ManualReview(txID, accountID string, amount float64, reason string)
}

// Engine – движок выплат: пакетный обход и выплата по запросу.
// Вся конкуренция разруливается арендой (processing) плюс атомарными
// условными инкрементами в Store, движок сам блокировок не держит
type Engine struct {
	store    Store
	provider PayoutSender
	alerts   Alerter
	log      *zap.Logger
}

func NewEngine(store Store, provider PayoutSender, alerts Alerter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, provider: provider, alerts: alerts, log: log}
}

// round2 – деньги храним с точностью до цента
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ProcessReferral – пакетный путь: захват записи, расчёт вознаграждения,
// при пороговом счёте – внешний перевод, финализация.
// Возвращает true, если запись была захвачена и доведена до completed
func (e *Engine) ProcessReferral(ctx context.Context, referralID string) (bool, error) {
	claim, err := e.store.ClaimReferral(ctx, referralID)
	if err != nil {
		return false, fmt.Errorf("claim referral %s: %w", referralID, err)
	}
	if claim == nil {
		// уже обработан или захвачен параллельным процессом – штатный пропуск
		e.log.Debug("реферал уже обработан, пропускаем", zap.String("referral", referralID))
		return false, nil
	}

	account, err := e.store.AccountByCode(ctx, claim.Code)
	if err != nil {
		// код не резолвится в счёт – нарушение целостности данных.
		// Апстрим обязан был это отсечь, поэтому падаем громко
		_ = e.store.FailReferral(ctx, referralID)
		return false, fmt.Errorf("referral %s: code %q does not resolve to a ledger account: %w", referralID, claim.Code, err)
	}

	if account.IsCeilingAccount() {
		return true, e.processCeilingReferral(ctx, claim.ID, claim.ProductID, account.ID,
			account.PayoutEmail, *account.PercentPerReferral, *account.PayoutCeiling)
	}

	// Фиксированная ставка: начисляем на оба баланса, внешний перевод
	// не нужен – деньги уходят позже по запросу на вывод
	amount := round2(account.PayoutPerReferral)
	if _, err := e.store.CreditReferral(ctx, account.ID, amount, amount); err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return false, fmt.Errorf("credit referral %s: %w", referralID, err)
	}
	if err := e.store.FinishReferral(ctx, referralID); err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return false, fmt.Errorf("finish referral %s: %w", referralID, err)
	}
	e.log.Info("реферал зачтён",
		zap.String("referral", referralID),
		zap.String("account", account.ID),
		zap.Float64("amount", amount))
	return true, nil
}

// processCeilingReferral – процентный счёт: начисление копится, перевод
// срабатывает только при достижении порога и уходит ВСЕМ накопленным
// балансом, а не маржинальной суммой – так много мелких рефералов
// склеиваются в редкие крупные переводы
func (e *Engine) processCeilingReferral(ctx context.Context, referralID, productID, accountID, payoutEmail string, percent, ceiling float64) error {
	product, err := e.store.Product(ctx, productID)
	if err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("referral %s: product %q not found: %w", referralID, productID, err)
	}

	payout := round2(product.Price * percent)
	newPending, err := e.store.CreditReferral(ctx, accountID, payout, 0)
	if err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("credit referral %s: %w", referralID, err)
	}

	if newPending < ceiling {
		return e.finishClaimed(ctx, referralID)
	}

	claimed, err := e.store.ClaimAccount(ctx, accountID)
	if err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("claim account %s: %w", accountID, err)
	}
	if !claimed {
		// аренда у параллельной выплаты – начисление уже легло,
		// баланс уйдёт со следующим срабатыванием порога
		e.log.Info("аренда счёта занята, перевод отложен", zap.String("account", accountID))
		return e.finishClaimed(ctx, referralID)
	}

	// Снимок суммы берём ДО вызова провайдера и пишем журнальную запись –
	// каждая отправка денег оставляет след раньше, чем что-то ушло
	amount := round2(newPending)
	txID, err := e.store.CreateTransaction(ctx, accountID, amount)
	if err != nil {
		_ = e.store.ReleaseAccount(ctx, accountID)
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("create payout transaction: %w", err)
	}

	providerID, err := e.provider.SendPayout(ctx, payoutEmail, amount, "Consolidated referral payout")
	if err != nil {
		// перевод не прошёл – денег не ушло, балансы не трогаем
		_ = e.store.FailTransaction(ctx, txID, err.Error())
		_ = e.store.ReleaseAccount(ctx, accountID)
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	// Провайдер подтвердил перевод. С этого момента откат запрещён:
	// любая ошибка ниже – это manual review, а не компенсация
	if err := e.finalizeCeiling(ctx, txID, providerID, accountID, referralID, amount); err != nil {
		e.flagManualReview(ctx, txID, accountID, amount, err)
		return fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	monitoring.PayoutsSentTotal.WithLabelValues("sweep").Inc()
	monitoring.PayoutAmountTotal.WithLabelValues("sweep").Add(amount)
	e.log.Info("консолидированная выплата проведена",
		zap.String("account", accountID),
		zap.String("tx", txID),
		zap.Float64("amount", amount))
	return nil
}

func (e *Engine) finalizeCeiling(ctx context.Context, txID, providerID, accountID, referralID string, amount float64) error {
	if err := e.store.CompleteTransaction(ctx, txID, providerID); err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	if err := e.store.SettleBalance(ctx, accountID, amount); err != nil {
		return fmt.Errorf("settle balance: %w", err)
	}
	if err := e.store.FinishReferral(ctx, referralID); err != nil {
		return fmt.Errorf("finish referral: %w", err)
	}
	return nil
}

func (e *Engine) finishClaimed(ctx context.Context, referralID string) error {
	if err := e.store.FinishReferral(ctx, referralID); err != nil {
		_ = e.store.FailReferral(ctx, referralID)
		return fmt.Errorf("finish referral %s: %w", referralID, err)
	}
	return nil
}

// WithdrawalResult – итог успешного вывода
type WithdrawalResult struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
}

// Withdraw – выплата по запросу пользователя. Сумма снимается снимком и
// атомарно вычитается из баланса в момент захвата, поэтому начисления,
// пришедшие во время внешнего вызова, не теряются.
// Три ветки отказа:
//   - провайдер отказал: полный откат, деньги не уходили;
//   - провайдер подтвердил, а финализация упала: отката НЕТ, manual review;
//   - сбой до вызова провайдера: полный откат
func (e *Engine) Withdraw(ctx context.Context, userID string) (*WithdrawalResult, error) {
	account, err := e.store.AccountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s", ErrNoAccount, userID)
	}
	if account.PendingPayout < account.PayoutPerReferral {
		return nil, fmt.Errorf("%w: pending=%.2f, minimum=%.2f",
			ErrBelowMinimum, account.PendingPayout, account.PayoutPerReferral)
	}

	amount, err := e.store.ClaimWithdrawal(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("claim withdrawal: %w", err)
	}
	if amount == 0 {
		// аренда занята или баланс изменился под минимальный порог
		return nil, ErrClaimConflict
	}
	amount = round2(amount)

	txID, err := e.store.CreateTransaction(ctx, account.ID, amount)
	if err != nil {
		// до провайдера не дошли – откат безопасен
		if rbErr := e.store.RollbackWithdrawal(ctx, account.ID, amount); rbErr != nil {
			e.log.Error("откат вывода не удался", zap.String("account", account.ID), zap.Error(rbErr))
		}
		return nil, fmt.Errorf("create payout transaction: %w", err)
	}

	providerID, err := e.provider.SendPayout(ctx, account.PayoutEmail, amount, "Referral balance withdrawal")
	if err != nil {
		// перевод не прошёл – возвращаем ровно снятую сумму
		_ = e.store.FailTransaction(ctx, txID, err.Error())
		if rbErr := e.store.RollbackWithdrawal(ctx, account.ID, amount); rbErr != nil {
			e.log.Error("откат вывода не удался", zap.String("account", account.ID), zap.Error(rbErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	// Деньги ушли. Дальше никаких компенсаций: повторное начисление
	// снятой суммы позволило бы вывести её второй раз
	if err := e.finalizeWithdrawal(ctx, txID, providerID, account.ID); err != nil {
		e.flagManualReview(ctx, txID, account.ID, amount, err)
		return nil, fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	monitoring.PayoutsSentTotal.WithLabelValues("withdrawal").Inc()
	monitoring.PayoutAmountTotal.WithLabelValues("withdrawal").Add(amount)
	e.log.Info("вывод средств проведён",
		zap.String("account", account.ID),
		zap.String("tx", txID),
		zap.Float64("amount", amount))
	return &WithdrawalResult{TransactionID: txID, Amount: amount}, nil
}

func (e *Engine) finalizeWithdrawal(ctx context.Context, txID, providerID, accountID string) error {
	if err := e.store.CompleteTransaction(ctx, txID, providerID); err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	if err := e.store.ReleaseAccount(ctx, accountID); err != nil {
		return fmt.Errorf("release account: %w", err)
	}
	return nil
}

// flagManualReview – единственный не самовосстанавливающийся класс отказа:
// журнальная запись остаётся в pending с флагом ручной сверки, оператора
// будим по всем каналам
func (e *Engine) flagManualReview(ctx context.Context, txID, accountID string, amount float64, cause error) {
	monitoring.ManualReviewTotal.Inc()
	e.log.Error("ДЕНЬГИ ОТПРАВЛЕНЫ, ФИНАЛИЗАЦИЯ НЕ ПРОШЛА – требуется ручная сверка",
		zap.String("tx", txID),
		zap.String("account", accountID),
		zap.Float64("amount", amount),
		zap.Error(cause))
	if err := e.store.FlagManualReview(ctx, txID, cause.Error()); err != nil {
		e.log.Error("не удалось поставить флаг manual review", zap.String("tx", txID), zap.Error(err))
	}
	if e.alerts != nil {
		e.alerts.ManualReview(txID, accountID, amount, cause.Error())
	}
}

// HandleRefund – обработчик корректировки при отмене/возврате подписки.
// Для оплаченного завершённого реферала сумма пересчитывается от цены
// продукта (а не берётся из устаревших полей) и списывается с обоих
// балансов; баланс может уйти в минус
func (e *Engine) HandleRefund(ctx context.Context, referredUserID string) error {
	ref, err := e.store.GetReferral(ctx, referredUserID)
	if err != nil {
		return fmt.Errorf("referral %s not found: %w", referredUserID, err)
	}
	if ref.Status == "refunded" {
		return nil
	}

	if ref.Status != "completed" || !ref.Paid {
		// реферал не был оплачен – возврат без движения по счёту
		if err := e.store.MarkReferralRefunded(ctx, ref.ID); err != nil {
			return fmt.Errorf("mark referral refunded: %w", err)
		}
		return nil
	}

	account, err := e.store.AccountByCode(ctx, ref.Code)
	if err != nil {
		return fmt.Errorf("refund %s: code %q does not resolve to a ledger account: %w", ref.ID, ref.Code, err)
	}

	var amount float64
	if account.IsCeilingAccount() {
		if ref.ProductID == nil {
			return fmt.Errorf("refund %s: paid percent referral has no product", ref.ID)
		}
		product, err := e.store.Product(ctx, *ref.ProductID)
		if err != nil {
			return fmt.Errorf("refund %s: product %q not found: %w", ref.ID, *ref.ProductID, err)
		}
		amount = round2(product.Price * *account.PercentPerReferral)
	} else {
		amount = round2(account.PayoutPerReferral)
	}

	if err := e.store.RefundPaidReferral(ctx, ref.ID, account.ID, amount); err != nil {
		return fmt.Errorf("refund referral %s: %w", ref.ID, err)
	}

	e.log.Info("возврат проведён, счёт дебетован",
		zap.String("referral", ref.ID),
		zap.String("account", account.ID),
		zap.Float64("amount", amount))
	return nil
}
