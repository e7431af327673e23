package handlers

import (
	"log"
	"net/http"
	"time"

	"referral-system/models"

	"github.com/gin-gonic/gin"
)

// События биллинга, которые мы потребляем. Поля сверх перечисленных
// провайдер присылает, но они нам не нужны
type BillingEvent struct {
	Type         string `json:"type"`
	AppUserID    string `json:"app_user_id"`
	ProductID    string `json:"product_id"`
	CancelReason string `json:"cancel_reason"`
	PeriodType   string `json:"period_type"`
}

// BillingWebhookHandler принимает события провайдера биллинга.
// Контракт: 401 – неверный секрет (в middleware), 400 – нет обязательных
// полей, 200 – обработано, 500 – внутренний сбой
func BillingWebhookHandler(c *gin.Context) {
	var payload struct {
		Event BillingEvent `json:"event"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload: " + err.Error()})
		return
	}
	ev := payload.Event

	if ev.AppUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "app_user_id is required"})
		return
	}

	switch ev.Type {
	case "INITIAL_PURCHASE":
		if ev.ProductID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
			return
		}
		handleInitialPurchase(c, ev)

	case "CANCELLATION":
		handleCancellation(c, ev)

	default:
		// неинтересные события подтверждаем, чтобы провайдер не ретраил
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

// handleInitialPurchase переводит реферала pending → approved и назначает
// срок зрелости выплаты. Код обязан резолвиться в существующий счёт –
// иначе это нарушение целостности, отвечаем 500 и шумим в логах
func handleInitialPurchase(c *gin.Context, ev BillingEvent) {
	ref, err := models.GetReferralByID(ev.AppUserID)
	if err != nil {
		// пользователь без реферала – штатно, событие просто не про нас
		c.JSON(http.StatusOK, gin.H{"status": "no referral"})
		return
	}

	exists, err := models.CodeExists(c.Request.Context(), ref.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if !exists {
		log.Printf("❌ Нарушение целостности: код %q реферала %s не резолвится в счёт", ref.Code, ref.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "referral code does not resolve to an account"})
		return
	}

	approved, err := models.ApproveReferral(ev.AppUserID, ev.ProductID, time.Now().Add(cfg.PayoutMaturity))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to approve referral"})
		return
	}
	if !approved {
		// уже approved/completed – повторная доставка события
		c.JSON(http.StatusOK, gin.H{"status": "already approved"})
		return
	}

	log.Printf("✅ Реферал %s одобрен, выплата созреет %v", ev.AppUserID, time.Now().Add(cfg.PayoutMaturity).Format(time.DateOnly))
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

// handleCancellation запускает корректировку счёта. Обрабатываем только
// возвраты через поддержку и отмены триала – добровольная отмена после
// оплаченного периода вознаграждение не отменяет
func handleCancellation(c *gin.Context, ev BillingEvent) {
	if ev.CancelReason != "CUSTOMER_SUPPORT" && ev.PeriodType != "TRIAL" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if _, err := models.GetReferralByID(ev.AppUserID); err != nil {
		// пользователь без реферала – событие не про нас
		c.JSON(http.StatusOK, gin.H{"status": "no referral"})
		return
	}

	if err := engine.HandleRefund(c.Request.Context(), ev.AppUserID); err != nil {
		log.Printf("❌ Корректировка по возврату %s не выполнена: %v", ev.AppUserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refund adjustment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}
