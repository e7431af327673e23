package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"referral-system/config"

	"github.com/gin-gonic/gin"
)

// WebhookAuthMiddleware проверяет общий bearer-секрет провайдера биллинга.
// Несовпадение – всегда 401, тело запроса при этом не читается
func WebhookAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.BillingWebhookSecret == "" {
			log.Println("❌ BILLING_WEBHOOK_SECRET не задан, вебхук отклонён")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "webhook secret not configured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && strings.ToLower(parts[0]) == "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(cfg.BillingWebhookSecret)) != 1 {
			log.Println("❌ Неверный секрет вебхука биллинга")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}

		c.Next()
	}
}
