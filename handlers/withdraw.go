package handlers

import (
	"errors"
	"net/http"

	"referral-system/settlement"

	"github.com/gin-gonic/gin"
)

// WithdrawHandler – вывод накопленного баланса по запросу пользователя.
// Параметров нет: сумма определяется текущим балансом счёта.
// Классы ошибок движка переводятся в ответы так:
//   - валидация (нет счёта / ниже минимума) – 400, состояние не менялось;
//   - конкуренция (аренда занята) – 409, можно повторить позже;
//   - отказ провайдера – 502, откат выполнен, повтор безопасен;
//   - ошибка сверки – 200 с нейтральным текстом: деньги отправлены,
//     пользователю не нужно знать о внутренней рассинхронизации
func WithdrawHandler(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := engine.Withdraw(c.Request.Context(), userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"transaction_id": result.TransactionID,
			"amount":         result.Amount,
		})

	case errors.Is(err, settlement.ErrNoAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "счёт реферальной программы не найден"})

	case errors.Is(err, settlement.ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{"error": "сумма на балансе меньше минимальной для вывода"})

	case errors.Is(err, settlement.ErrClaimConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "предыдущий вывод ещё обрабатывается, попробуйте позже"})

	case errors.Is(err, settlement.ErrPayoutFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "платёжный сервис временно недоступен, средства не списаны – повторите позже"})

	case errors.Is(err, settlement.ErrReconciliation):
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "выплата принята в обработку, мы свяжемся с вами по её итогам",
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка, попробуйте позже"})
	}
}
