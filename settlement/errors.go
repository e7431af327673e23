package settlement

import "errors"

// Классы ошибок движка. Обработчики переводят их в HTTP-ответы:
// валидация – 4xx без мутаций, конкуренция – попробуйте позже,
// транзиентные ошибки провайдера – откат выполнен, можно повторять,
// ошибки сверки – деньги ушли, локальная фиксация не удалась,
// откат ЗАПРЕЩЁН, нужен оператор
var (
	ErrNoAccount      = errors.New("ledger account not found")
	ErrBelowMinimum   = errors.New("pending payout below minimum withdrawal")
	ErrClaimConflict  = errors.New("account lease already held")
	ErrPayoutFailed   = errors.New("payout provider call failed")
	ErrReconciliation = errors.New("payout sent but finalization failed, manual review required")
)
